package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/posterwatch/internal/loader"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/visibility"
)

type loadOptions struct {
	eager   bool
	retries int
	width   int
	height  int
	quality int
	timeout time.Duration
}

func newLoadCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load <url>",
		Short: "Load one poster through the proxy with origin fallback",
		Long: `Drives a single resilient loader for the poster at <url> and prints every
stage it passes through: the optimized proxy first, then the origin, then
failed. With --retry a failed load restarts the whole sequence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.eager, "eager", true, "treat the poster as visible immediately")
	cmd.Flags().IntVar(&opts.retries, "retry", 0, "manual retries after a failed load")
	cmd.Flags().IntVar(&opts.width, "width", poster.DefaultWidth, "display width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", 0, "display height in pixels (0 keeps the aspect ratio)")
	cmd.Flags().IntVar(&opts.quality, "quality", poster.DefaultQuality, "proxy JPEG quality")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up waiting after this long")
	return cmd
}

// errPosterUnavailable is returned when the loader ends in Failed.
var errPosterUnavailable = errors.New("poster unavailable")

func runLoad(cmd *cobra.Command, url string, opts *loadOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	ref := poster.ResourceRef{
		ID:        "cli",
		OriginURL: url,
		Hint:      poster.DisplayHint{Width: opts.width, Height: opts.height, Quality: opts.quality},
		Eager:     opts.eager,
	}
	l, err := appInstance.NewLoader(ref, func(s loader.State) { printState(out, s) })
	if err != nil {
		return err
	}
	defer l.Close()

	// Non-eager posters become visible on Enter, the way a page scrolls them in.
	if !opts.eager {
		latch := visibility.NewLatch()
		l.Watch(latch)
		_, _ = fmt.Fprintln(out, "press enter to scroll the poster into view")
		go func() {
			buf := make([]byte, 1)
			_, _ = cmd.InOrStdin().Read(buf)
			latch.Fire()
		}()
	}

	for attempt := 0; ; attempt++ {
		s, err := l.Await(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", url, err)
		}
		if s.Phase == loader.PhaseLoaded {
			return nil
		}
		if attempt >= opts.retries || !ref.HasOrigin() {
			return errPosterUnavailable
		}
		_, _ = fmt.Fprintln(out, "retrying")
		l.Retry()
		if _, err := l.AwaitAttempt(ctx, s.Attempt); err != nil {
			return fmt.Errorf("load %s: %w", url, err)
		}
	}
}

func printState(out io.Writer, s loader.State) {
	switch s.Phase {
	case loader.PhaseLoaded:
		_, _ = fmt.Fprintf(out, "%-9s %s\n", "loaded", s.ActiveURL)
	case loader.PhaseFailed:
		_, _ = fmt.Fprintf(out, "%-9s\n", "failed")
	default:
		_, _ = fmt.Fprintf(out, "%-9s %s\n", string(s.Stage), s.ActiveURL)
	}
}
