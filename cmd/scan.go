package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/scanner"
)

type scanOptions struct {
	format      string
	failOnError bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check every catalog poster's origin URL",
		Long: `Probes the origin URL of every catalog resource one at a time and reports
which posters are unreachable. In text mode each row is printed as soon as it
resolves. Interrupting the scan leaves unchecked rows pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(report.FormatText), "output format: text, json, or markdown")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when any poster is unreachable")
	return cmd
}

// errPostersUnreachable is returned under --fail-on-error.
type errPostersUnreachable int

func (e errPostersUnreachable) Error() string {
	return fmt.Sprintf("%d posters unreachable", int(e))
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var observers []scanner.Observer
	if format == report.FormatText {
		observers = append(observers, &rowPrinter{out: out})
	}
	run, err := appInstance.Service().RunScan(ctx, observers...)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if format == report.FormatText {
		if _, err := fmt.Fprintln(out, report.FormatSummary(report.Summarize(run))); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	} else {
		w, err := report.NewWriter(format, out)
		if err != nil {
			return err
		}
		if _, err := w.Write(run); err != nil {
			return err
		}
	}

	if n := run.ErrorCount(); opts.failOnError && n > 0 {
		return errPostersUnreachable(n)
	}
	return nil
}

// rowPrinter writes each entry once it resolves.
type rowPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *rowPrinter) Observe(run scanner.Run, index int) {
	e := run.Entries[index]
	if !e.Status.Terminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, report.FormatEntry(index, e))
}
