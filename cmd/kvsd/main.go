// Command kvsd runs the FIFO key-value server described in spec §6: it
// drains a jobs directory with a fixed worker pool while concurrently
// serving SUBSCRIBE/UNSUBSCRIBE/DISCONNECT sessions over a rendezvous FIFO.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/paulo-2048/kvsd/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options mirrors spec §6's four positional arguments, the way
// cmd/dockerd's serverOptions owns its daemon's flag values.
type options struct {
	jobsDir        string
	maxThreads     int
	maxBackups     int64
	serverPipeName string
	metricsAddr    string
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "kvsd jobs_dir max_threads max_backups server_pipe_name",
		Short: "Run the kvsd FIFO key-value server",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := strconv.Atoi(args[1])
			if err != nil || threads <= 0 {
				return fmt.Errorf("max_threads must be a positive integer, got %q", args[1])
			}
			backups, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || backups <= 0 {
				return fmt.Errorf("max_backups must be a positive integer, got %q", args[2])
			}
			opts.jobsDir = args[0]
			opts.maxThreads = threads
			opts.maxBackups = backups
			opts.serverPipeName = args[3]

			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	return cmd
}

func run(ctx context.Context, opts options) error {
	log := logrus.StandardLogger()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(server.Config{
		JobsDir:        opts.jobsDir,
		MaxThreads:     opts.maxThreads,
		MaxBackups:     opts.maxBackups,
		ServerPipeName: opts.serverPipeName,
		MetricsAddr:    opts.metricsAddr,
	}, log)

	return srv.Run(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("kvsd: fatal error")
		os.Exit(1)
	}
}
