package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"id":"run-1"}`)
	uri, err := store.PutObject(context.Background(), "reports/run-1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/run-1.json", uri)

	payload[0] = '['
	got, ct, ok := store.Get("reports/run-1.json")
	require.True(t, ok)
	require.Equal(t, `{"id":"run-1"}`, string(got))
	require.Equal(t, "application/json", ct)

	got[0] = 'X'
	again, _, _ := store.Get("reports/run-1.json")
	require.Equal(t, byte('{'), again[0])
	require.Equal(t, []string{"reports/run-1.json"}, store.Keys())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
	_, _, ok := NewBlobStore().Get("missing")
	require.False(t, ok)
}
