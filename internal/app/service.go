// Package app coordinates a bulk scan end to end: it lists the catalog, runs
// the scanner, keeps the latest run, and exports and announces finished runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/catalog"
	"github.com/JakeFAU/posterwatch/internal/metrics"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/publisher"
	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/scanner"
	"github.com/JakeFAU/posterwatch/internal/storage/memory"
)

// ErrClosed is returned by StartScan after Close.
var ErrClosed = errors.New("scan service closed")

// Config wires the service collaborators. Catalog and Scanner are required.
type Config struct {
	Catalog   poster.Catalog
	Scanner   *scanner.Scanner
	Runs      *memory.RunStore
	Exporter  *report.Exporter
	Publisher poster.Publisher
	Topic     string
	Logger    *zap.Logger
}

// Service runs scans on behalf of the API and the CLI.
type Service struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("app: catalog is required")
	}
	if cfg.Scanner == nil {
		return nil, errors.New("app: scanner is required")
	}
	if cfg.Runs == nil {
		cfg.Runs = memory.NewRunStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{cfg: cfg, logger: cfg.Logger, ctx: ctx, cancel: cancel}, nil
}

// Resources lists the catalog.
func (s *Service) Resources(ctx context.Context) ([]poster.ResourceRef, error) {
	refs, err := s.cfg.Catalog.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return refs, nil
}

// Resource looks up one catalog entry by ID.
func (s *Service) Resource(ctx context.Context, id string) (poster.ResourceRef, bool, error) {
	ref, ok, err := catalog.Find(ctx, s.cfg.Catalog, id)
	if err != nil {
		return poster.ResourceRef{}, false, err
	}
	return ref, ok, nil
}

// RunScan scans the whole catalog and blocks until the run finishes. Extra
// observers see this run only.
func (s *Service) RunScan(ctx context.Context, observers ...scanner.Observer) (scanner.Run, error) {
	refs, err := s.Resources(ctx)
	if err != nil {
		return scanner.Run{}, err
	}
	run, err := s.cfg.Scanner.Scan(ctx, refs, append([]scanner.Observer{s.cfg.Runs}, observers...)...)
	if err != nil {
		return scanner.Run{}, err
	}
	s.complete(ctx, run)
	return run, nil
}

// StartScan starts a scan in the background and returns its run ID once the
// run has been published as all-Pending. It fails with
// scanner.ErrScanInProgress while another scan is running.
func (s *Service) StartScan(ctx context.Context) (string, error) {
	if s.ctx.Err() != nil {
		return "", ErrClosed
	}
	refs, err := s.Resources(ctx)
	if err != nil {
		return "", err
	}

	started := make(chan string, 1)
	failed := make(chan error, 1)
	hook := startHook{started: started}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run, err := s.cfg.Scanner.Scan(s.ctx, refs, s.cfg.Runs, hook)
		if err != nil {
			failed <- err
			return
		}
		s.complete(s.ctx, run)
	}()

	select {
	case id := <-started:
		return id, nil
	case err := <-failed:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("start scan: %w", ctx.Err())
	}
}

// Latest returns the live or most recent run.
func (s *Service) Latest() (scanner.Run, bool) {
	return s.cfg.Runs.Latest()
}

// Running reports whether a scan is in flight.
func (s *Service) Running() bool {
	return s.cfg.Scanner.Running()
}

// Cancel aborts the in-flight scan.
func (s *Service) Cancel() bool {
	return s.cfg.Scanner.Cancel()
}

// Wait blocks until background scans started with StartScan have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background scans and waits for them, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scans: %w", ctx.Err())
	}
}

// complete exports and announces a finished run. Failures are logged; the
// run itself already succeeded.
func (s *Service) complete(ctx context.Context, run scanner.Run) {
	// Completion work should still happen for a canceled scan.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("run_id", run.ID))

	var reportURI string
	if s.cfg.Exporter != nil {
		uri, err := s.cfg.Exporter.Export(ctx, run)
		metrics.ObserveReportExport(err)
		if err != nil {
			logger.Warn("report export failed", zap.Error(err))
		} else {
			reportURI = uri
			logger.Info("report exported", zap.String("uri", uri))
		}
	}

	if s.cfg.Publisher != nil && s.cfg.Topic != "" {
		msg := publisher.NewScanCompleted(report.Summarize(run), reportURI)
		id, err := s.cfg.Publisher.Publish(ctx, s.cfg.Topic, msg)
		metrics.ObserveNotification(err)
		if err != nil {
			logger.Warn("scan notification failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
			return
		}
		logger.Debug("scan notification published", zap.String("topic", s.cfg.Topic), zap.String("message_id", id))
	}
}

type startHook struct {
	started chan<- string
}

func (startHook) Observe(scanner.Run, int) {}

func (h startHook) RunStarted(run scanner.Run) {
	select {
	case h.started <- run.ID:
	default:
	}
}
