package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsecrm/realtime/internal/app/replay"
	"github.com/pulsecrm/realtime/internal/config"
	"github.com/pulsecrm/realtime/internal/platform/env"
	"github.com/pulsecrm/realtime/internal/platform/metrics"
	"github.com/pulsecrm/realtime/internal/platform/natsutil"
	"github.com/spf13/cobra"
)

type options struct {
	natsURL        string
	workspace      string
	connectTimeout time.Duration
	duplicates     int
	shuffle        bool
	seed           int64
	rate           float64
	keepInvalid    bool
	logLevel       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	opts := options{
		natsURL:        env.String("NATS_URL", env.DefaultNATSURL),
		workspace:      env.String("CRM_WORKSPACE", env.DefaultWorkspace),
		connectTimeout: env.Duration("NATS_CONNECT_TIMEOUT", 30*time.Second),
		seed:           time.Now().UnixNano(),
		logLevel:       env.String("LOG_LEVEL", "info"),
	}

	cmd := &cobra.Command{
		Use:   "event-replay [recording.jsonl]",
		Short: "Publish recorded CRM events to a workspace",
		Long: `event-replay reads JSON lines of {"event": "...", "data": {...}} and publishes each
payload on the workspace's event subject. Duplicates and shuffling simulate the redelivery
and reordering a realtime client has to tolerate. Reads stdin when no file is given.`,
		Example: `  event-replay --workspace acme testdata/day.jsonl
  event-replay --duplicates 1 --shuffle --seed 7 < day.jsonl`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, in, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.natsURL, "nats-url", opts.natsURL, "NATS server URL")
	f.StringVar(&opts.workspace, "workspace", opts.workspace, "workspace to publish into")
	f.DurationVar(&opts.connectTimeout, "connect-timeout", opts.connectTimeout, "how long to wait for NATS")
	f.IntVar(&opts.duplicates, "duplicates", 0, "extra copies of every event")
	f.BoolVar(&opts.shuffle, "shuffle", false, "publish in random order")
	f.Int64Var(&opts.seed, "seed", opts.seed, "shuffle seed")
	f.Float64Var(&opts.rate, "rate", 0, "events per second; 0 for no limit")
	f.BoolVar(&opts.keepInvalid, "keep-invalid", false, "publish payloads that fail validation instead of aborting")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "zerolog level")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	log := config.Config{LogLevel: opts.logLevel}.Logger(os.Stderr)

	msgs, err := replay.Read(in, opts.keepInvalid)
	if err != nil {
		return err
	}
	plan := replay.Plan(msgs, replay.PlanOptions{
		Duplicates: opts.duplicates,
		Shuffle:    opts.shuffle,
		Seed:       opts.seed,
	})

	client, err := natsutil.ConnectJetStreamWithRetry(ctx, opts.natsURL, opts.connectTimeout, natsutil.LoggingOptions("event-replay", log)...)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Ready(); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	r := replay.NewReplayer(natsutil.JetStreamPublisher{JS: client.JS}, replay.Options{
		Workspace: opts.workspace,
		Rate:      opts.rate,
		Logger:    log,
		Metrics:   reg,
	})

	log.Info().
		Int("recorded", len(msgs)).
		Int("planned", len(plan)).
		Bool("shuffle", opts.shuffle).
		Int64("seed", opts.seed).
		Msg("replay starting")
	stats, err := r.Run(ctx, plan)
	fmt.Fprintf(out, "published=%d failed=%d\n", stats.Published, stats.Failed)
	if err != nil {
		return err
	}
	_, _ = io.WriteString(out, reg.Render())
	return nil
}
