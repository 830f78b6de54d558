package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autoroll/internal/app"
)

// shutdownTimeout bounds the whole stop sequence, checkpoint flush included.
const shutdownTimeout = 15 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, rootOpts.ConfigPath)
		},
	}
}

// process is the part of app.App that serve drives.
type process interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, reason app.StopReason) error
	Done() <-chan struct{}
	Err() error
}

func serve(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return run(ctx, a)
}

// run starts p and blocks until ctx is canceled or p fails. A panic on this
// goroutine still flushes checkpoints before it is reported.
func run(ctx context.Context, p process) (err error) {
	stop := func(reason app.StopReason) error {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return p.Stop(stopCtx, reason)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = stop(app.StopPanic)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := p.Start(ctx); err != nil {
		_ = stop(app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	select {
	case <-ctx.Done():
		return stop(app.StopSignal)
	case <-p.Done():
	}
	// The supervisor canceled the app; a nil Err means Stop came from elsewhere.
	fatal := p.Err()
	reason := app.StopAppStop
	if fatal != nil {
		reason = app.StopFatalError
	}
	if err := stop(reason); err != nil && fatal == nil {
		return err
	}
	return fatal
}
