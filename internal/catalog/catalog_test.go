package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

type staticCatalog struct {
	refs []poster.ResourceRef
	err  error
}

func (s staticCatalog) ListResources(context.Context) ([]poster.ResourceRef, error) {
	return s.refs, s.err
}

func TestFind(t *testing.T) {
	t.Parallel()

	c := staticCatalog{refs: []poster.ResourceRef{{ID: "a"}, {ID: "b", Title: "Bee"}}}
	ref, ok, err := Find(context.Background(), c, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bee", ref.Title)

	_, ok, err = Find(context.Background(), c, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Find(context.Background(), staticCatalog{err: errors.New("db down")}, "a")
	require.ErrorContains(t, err, "db down")
}

func TestMarkEager(t *testing.T) {
	t.Parallel()

	refs := make([]poster.ResourceRef, 4)
	MarkEager(refs, 2)
	assert.True(t, refs[0].Eager)
	assert.True(t, refs[1].Eager)
	assert.False(t, refs[2].Eager)
	MarkEager(refs[:1], 10)
}
