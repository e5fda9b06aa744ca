package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/config"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/server"
)

const seed = `resources:
  - id: alien
    title: Alien
    url: https://img.example/alien.jpg
  - id: heat
    title: Heat
    url: https://img.example/heat.jpg
  - id: blank
    title: Blank
`

// useProber swaps the application factory for one that probes with p. Tests
// using it must not run in parallel.
func useProber(t *testing.T, p poster.Prober) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg *config.Config, _ *zap.Logger) (App, error) {
		return server.Build(ctx, cfg,
			server.WithLogger(zap.NewNop()),
			server.WithRegisterer(prometheus.NewRegistry()),
			server.WithProber(p),
		)
	}
	t.Cleanup(func() { newApp = orig })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "catalog:\n  seed_file: " + seedPath + "\nloader:\n  proxy_base_url: https://proxy.example/\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func failHeat(_ context.Context, url string) error {
	if strings.Contains(url, "heat") {
		return &poster.TransportError{URL: url, StatusCode: 404}
	}
	return nil
}

func TestVersionCommandSkipsApp(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "posterwatch dev\n", out)
}

func TestScanCommandTextOutput(t *testing.T) {
	useProber(t, poster.ProberFunc(failHeat))

	out, err := execute(t, "scan", "--config", writeConfig(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "OK")
	require.Contains(t, lines[0], "Alien")
	require.Contains(t, lines[1], "ERROR")
	require.Contains(t, lines[1], "status 404")
	require.Contains(t, lines[2], poster.ErrEmptyReference.Error())
	require.Contains(t, lines[3], "3 total, 1 ok, 2 errors")
}

func TestScanCommandJSONOutput(t *testing.T) {
	useProber(t, poster.ProberFunc(failHeat))

	out, err := execute(t, "scan", "--config", writeConfig(t), "--format", "json")
	require.NoError(t, err)

	var doc report.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, 3, doc.Summary.Total)
	require.Equal(t, 2, doc.Summary.Errors)
	require.Len(t, doc.Run.Entries, 3)
}

func TestScanCommandFailOnError(t *testing.T) {
	useProber(t, poster.ProberFunc(failHeat))

	_, err := execute(t, "scan", "--config", writeConfig(t), "--fail-on-error", "--format", "markdown")
	require.EqualError(t, err, "2 posters unreachable")
}

func TestScanCommandRejectsUnknownFormat(t *testing.T) {
	useProber(t, poster.ProberFunc(failHeat))

	_, err := execute(t, "scan", "--config", writeConfig(t), "--format", "xml")
	require.ErrorContains(t, err, "unknown report format")
}

func TestLoadCommandFallsBackToOrigin(t *testing.T) {
	useProber(t, poster.ProberFunc(func(_ context.Context, url string) error {
		if strings.HasPrefix(url, "https://proxy.example/") {
			return &poster.TransportError{URL: url, StatusCode: 502}
		}
		return nil
	}))

	out, err := execute(t, "load", "--config", writeConfig(t), "https://img.example/alien.jpg")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "proxied"))
	require.True(t, strings.HasPrefix(lines[1], "direct"))
	require.Equal(t, "loaded    https://img.example/alien.jpg", lines[2])
}

func TestLoadCommandRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	useProber(t, poster.ProberFunc(func(context.Context, string) error {
		if calls.Add(1) <= 2 {
			return &poster.TransportError{StatusCode: 503}
		}
		return nil
	}))

	out, err := execute(t, "load", "--config", writeConfig(t), "--retry", "1", "https://img.example/alien.jpg")
	require.NoError(t, err)
	require.Contains(t, out, "failed")
	require.Contains(t, out, "retrying")
	require.Contains(t, out, "loaded    https://proxy.example/?")
}

func TestLoadCommandReportsUnavailable(t *testing.T) {
	useProber(t, poster.ProberFunc(func(_ context.Context, url string) error {
		return &poster.TransportError{URL: url, StatusCode: 404}
	}))

	out, err := execute(t, "load", "--config", writeConfig(t), "https://img.example/gone.jpg")
	require.ErrorIs(t, err, errPosterUnavailable)
	require.Contains(t, out, "failed")
}
