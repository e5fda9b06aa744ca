package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

const defaultQuery = "SELECT id::text, coalesce(title, ''), coalesce(cover_url, '') FROM movies ORDER BY id"

func TestListResources(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c, err := NewWithPool(mock, Config{EagerFirst: 1})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(defaultQuery)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "cover_url"}).
			AddRow("1", "Alien", "https://image.tmdb.org/t/p/original/alien.jpg").
			AddRow("2", "Untitled", ""))

	refs, err := c.ListResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []poster.ResourceRef{
		{ID: "1", Title: "Alien", OriginURL: "https://image.tmdb.org/t/p/original/alien.jpg", Eager: true},
		{ID: "2", Title: "Untitled"},
	}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResourcesQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c, err := NewWithPool(mock, Config{Table: "films", URLColumn: "poster_url"})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("coalesce(poster_url, '') FROM films")).
		WillReturnError(errors.New("relation does not exist"))

	_, err = c.ListResources(context.Background())
	require.ErrorContains(t, err, "query catalog")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	c, err := NewWithPool(mock, Config{})
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, c.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, c.Ping(context.Background()), "ping postgres")

	require.NoError(t, mock.ExpectationsWereMet())
	c.Close()
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, Config{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, Config{Table: "movies; DROP TABLE movies"})
	require.ErrorContains(t, err, "invalid identifier")
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{DSN: "://bad"})
	require.Error(t, err)
}
