package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	catalogmem "github.com/JakeFAU/posterwatch/internal/catalog/memory"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/publisher"
	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/scanner"
	"github.com/JakeFAU/posterwatch/internal/storage/memory"
)

// MockPublisher mocks the poster.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies the poster.Publisher interface for the mock.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

type failingCatalog struct{}

func (failingCatalog) ListResources(context.Context) ([]poster.ResourceRef, error) {
	return nil, errors.New("catalog offline")
}

func testCatalog() *catalogmem.Catalog {
	return catalogmem.New(
		poster.ResourceRef{ID: "alien", Title: "Alien", OriginURL: "https://img.example/alien.jpg"},
		poster.ResourceRef{ID: "heat", Title: "Heat", OriginURL: "https://img.example/heat.jpg"},
		poster.ResourceRef{ID: "blank", Title: "Blank"},
	)
}

func newService(t *testing.T, p poster.Prober, cfg Config) *Service {
	t.Helper()
	sc, err := scanner.New(scanner.Config{Prober: p})
	require.NoError(t, err)
	cfg.Scanner = sc
	if cfg.Catalog == nil {
		cfg.Catalog = testCatalog()
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func failHeat(_ context.Context, url string) error {
	if url == "https://img.example/heat.jpg" {
		return &poster.TransportError{URL: url, StatusCode: 404}
	}
	return nil
}

func TestRunScanExportsAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "scans", mock.MatchedBy(func(msg publisher.ScanCompleted) bool {
		return msg.Total == 3 && msg.Errors == 2 && msg.Ok == 1 && msg.ReportURI != ""
	})).Return("msg-1", nil).Once()

	svc := newService(t, poster.ProberFunc(failHeat), Config{
		Exporter:  report.NewExporter(blobs, "reports"),
		Publisher: pub,
		Topic:     "scans",
	})

	var seen int
	run, err := svc.RunScan(context.Background(), scanner.ObserverFunc(func(scanner.Run, int) { seen++ }))
	require.NoError(t, err)
	assert.Equal(t, 6, seen)
	assert.Equal(t, 2, run.ErrorCount())
	assert.Equal(t, scanner.StatusOk, run.Entries[0].Status)

	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, run, latest)

	_, _, ok = blobs.Get("reports/" + run.ID + ".json")
	assert.True(t, ok)
	pub.AssertExpectations(t)
}

func TestRunScanSurvivesCompletionFailures(t *testing.T) {
	t.Parallel()

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "scans", mock.Anything).Return("", errors.New("topic missing")).Once()

	svc := newService(t, poster.ProberFunc(failHeat), Config{Publisher: pub, Topic: "scans"})
	run, err := svc.RunScan(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Done())
	pub.AssertExpectations(t)
}

func TestRunScanCatalogError(t *testing.T) {
	t.Parallel()

	svc := newService(t, poster.ProberFunc(failHeat), Config{Catalog: failingCatalog{}})
	_, err := svc.RunScan(context.Background())
	require.ErrorContains(t, err, "catalog offline")
	_, ok := svc.Latest()
	assert.False(t, ok)
}

func TestStartScanRunsInBackground(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var once sync.Once
	entered := make(chan struct{})
	svc := newService(t, poster.ProberFunc(func(ctx context.Context, url string) error {
		once.Do(func() { close(entered) })
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return failHeat(ctx, url)
	}), Config{})

	id, err := svc.StartScan(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	<-entered

	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, id, latest.ID)
	assert.False(t, latest.Done())
	assert.True(t, svc.Running())

	_, err = svc.StartScan(context.Background())
	require.ErrorIs(t, err, scanner.ErrScanInProgress)

	close(release)
	svc.Wait()
	latest, _ = svc.Latest()
	assert.True(t, latest.Done())
	assert.Equal(t, 2, latest.ErrorCount())
}

func TestCancelStopsBackgroundScan(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	var once sync.Once
	svc := newService(t, poster.ProberFunc(func(ctx context.Context, _ string) error {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return ctx.Err()
	}), Config{})

	_, err := svc.StartScan(context.Background())
	require.NoError(t, err)
	<-entered
	require.True(t, svc.Cancel())
	svc.Wait()

	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.True(t, latest.Canceled)
	assert.Equal(t, scanner.StatusPending, latest.Entries[2].Status)
}

func TestCloseRejectsNewScans(t *testing.T) {
	t.Parallel()

	svc := newService(t, poster.ProberFunc(failHeat), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))

	_, err := svc.StartScan(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestResourceLookup(t *testing.T) {
	t.Parallel()

	svc := newService(t, poster.ProberFunc(failHeat), Config{})
	ref, ok, err := svc.Resource(context.Background(), "heat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Heat", ref.Title)

	refs, err := svc.Resources(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 3)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Catalog: testCatalog()})
	require.Error(t, err)
}
