package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/config"
	"github.com/JakeFAU/posterwatch/internal/loader"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/visibility"
)

const seed = `resources:
  - id: alien
    title: Alien
    url: https://img.example/alien.jpg
  - id: heat
    title: Heat
    url: https://img.example/heat.jpg
`

func loadConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o600))

	body := "catalog:\n  source: memory\n  seed_file: " + seedPath + "\n  eager_first: 1\n" + extra
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return &cfg
}

func build(t *testing.T, cfg *config.Config, p poster.Prober) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithProber(p),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBuildRunsScanEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "report:\n  storage: memory\n")
	a := build(t, cfg, poster.ProberFunc(func(_ context.Context, url string) error {
		if strings.Contains(url, "heat") {
			return &poster.TransportError{URL: url, StatusCode: 500}
		}
		return nil
	}))

	refs, err := a.Service().Resources(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.True(t, refs[0].Eager)
	require.False(t, refs[1].Eager)

	run, err := a.Service().RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, run.ErrorCount())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scans/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), run.ID)
}

func TestBuildLoaderUsesProxyFirst(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "loader:\n  proxy_base_url: https://proxy.example/\n")
	var probed []string
	a := build(t, cfg, poster.ProberFunc(func(_ context.Context, url string) error {
		probed = append(probed, url)
		return nil
	}))

	var states []loader.State
	l, err := a.NewLoader(poster.ResourceRef{ID: "alien", OriginURL: "https://img.example/alien.jpg"}, func(s loader.State) {
		states = append(states, s)
	})
	require.NoError(t, err)
	defer l.Close()
	l.Watch(visibility.Immediate())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := l.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, loader.PhaseLoaded, s.Phase)
	require.Equal(t, poster.StageProxied, s.Stage)
	require.True(t, strings.HasPrefix(s.ActiveURL, "https://proxy.example/?"))
	require.Len(t, probed, 1)
	require.Len(t, states, 2)
}

func TestBuildRateLimitedHTTPProber(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "probe:\n  transport: http\n  rate_limit_rps: 50\n  rate_limit_burst: 2\n")
	a, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, a.prober)
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildFailsOnMissingSeed(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "")
	cfg.Catalog.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "memory catalog init failed")
}

func TestBuildLocalReportStorage(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, "")
	cfg.Report.Storage = config.StorageLocal
	cfg.Report.LocalDir = t.TempDir()
	a := build(t, cfg, poster.ProberFunc(func(context.Context, string) error { return nil }))

	run, err := a.Service().RunScan(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Report.LocalDir, "reports", run.ID+".json"))
	require.NoError(t, err)
}
