package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rbaliyan/shardq"
	"github.com/rbaliyan/shardq/config"
	"github.com/rbaliyan/shardq/partition"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"syreclabs.com/go/faker"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	ConfigPath     string
	Events         int
	Shards         []string
	CriticalEvery  int
	HeartbeatEvery int
	Fragments      int
	WatchSeqno     int64
	Timeout        time.Duration
	Metrics        bool
}

// SimulationReport is the outcome of a simulation run.
type SimulationReport struct {
	Events     int           `json:"events"`
	Applied    []int64       `json:"applied"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	WatchFired bool          `json:"watch_fired,omitempty"`
	Status     shardq.Status `json:"status"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the dispatcher against a synthetic event stream",
		Long: "Feed generated change events through a store and one consumer per\n" +
			"channel, then print the final store status.\n\n" +
			"Every --critical-every'th event carries the unknown shard and runs\n" +
			"alone. Every --heartbeat-every'th event is a heartbeat and forces a\n" +
			"SYNC. The run ends with a STOP broadcast.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runSimulate(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "pipeline configuration file (defaults apply when empty)")
	cmd.Flags().IntVar(&opts.Events, "events", 1000, "number of transactions to generate")
	cmd.Flags().StringSliceVar(&opts.Shards, "shards", []string{"orders", "customers", "items"}, "shard ids to cycle through")
	cmd.Flags().IntVar(&opts.CriticalEvery, "critical-every", 0, "route every k-th transaction to the unknown shard (0 disables)")
	cmd.Flags().IntVar(&opts.HeartbeatEvery, "heartbeat-every", 0, "make every k-th transaction a heartbeat (0 disables)")
	cmd.Flags().IntVar(&opts.Fragments, "fragments", 1, "fragments per transaction")
	cmd.Flags().Int64Var(&opts.WatchSeqno, "watch", 0, "register a watch for this seqno (0 disables)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "abort the run after this long")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "append the Prometheus exposition of the store")
	return cmd
}

func (o *SimulateOptions) validate() error {
	switch {
	case o.Events < 0:
		return fmt.Errorf("--events must not be negative, got %d", o.Events)
	case len(o.Shards) == 0:
		return fmt.Errorf("--shards must name at least one shard")
	case o.Fragments < 1:
		return fmt.Errorf("--fragments must be at least 1, got %d", o.Fragments)
	case o.CriticalEvery < 0 || o.HeartbeatEvery < 0:
		return fmt.Errorf("--critical-every and --heartbeat-every must not be negative")
	}
	return nil
}

func (o *SimulateOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.ConfigPath)
}

// transaction returns the fragments of transaction seq.
func (o *SimulateOptions) transaction(seq int64) []*shardq.ChangeEvent {
	shard := o.Shards[int(seq-1)%len(o.Shards)]
	if o.CriticalEvery > 0 && seq%int64(o.CriticalEvery) == 0 {
		shard = partition.UnknownShard
	}
	heartbeat := o.HeartbeatEvery > 0 && seq%int64(o.HeartbeatEvery) == 0

	frags := make([]*shardq.ChangeEvent, o.Fragments)
	for i := range frags {
		ev := shardq.NewChangeEvent(seq, shard, map[string]any{
			"name":  faker.Name().Name(),
			"email": faker.Internet().Email(),
		})
		ev.ID = fmt.Sprintf("%d.%d", seq, i)
		ev.Frag = int16(i)
		ev.LastFragment = i == len(frags)-1
		if heartbeat {
			ev.HeartbeatName = "simulate"
		}
		frags[i] = ev
	}
	return frags
}

func runSimulate(ctx context.Context, opts *SimulateOptions, out, diag io.Writer) (err error) {
	if err := opts.validate(); err != nil {
		return err
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(diag)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	defer func() {
		if cerr := b.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err != nil {
		return err
	}

	p, err := cfg.BuildPartitioner(b.assignment)
	if err != nil {
		return err
	}
	storeOpts := append(cfg.StoreOptions(),
		shardq.WithPartitioner(p),
		shardq.WithLogger(logger.With("component", "shardq>store")),
	)
	if b.checkpoint != nil {
		storeOpts = append(storeOpts, shardq.WithCheckpointStore(b.checkpoint))
	}

	store, err := shardq.New(storeOpts...)
	if err != nil {
		return err
	}
	if err := store.Prepare(ctx); err != nil {
		return err
	}
	released := false
	defer func() {
		if !released {
			store.Release(context.Background())
		}
	}()

	var watch *shardq.Watch
	if opts.WatchSeqno > 0 {
		watch = store.InsertWatchSyncEvent(shardq.WatchSeqno(opts.WatchSeqno))
	}

	applied := make([]atomic.Int64, store.Channels())
	apply := func(_ context.Context, taskID int, _ shardq.Event) error {
		applied[taskID].Add(1)
		return nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.RunConsumers(gctx, apply)
	})
	g.Go(func() error {
		for seq := int64(1); seq <= int64(opts.Events); seq++ {
			for _, ev := range opts.transaction(seq) {
				if err := store.Put(gctx, 0, ev); err != nil {
					return err
				}
			}
		}
		return store.InsertStopEvent(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	report := SimulationReport{
		Events:  opts.Events,
		Applied: make([]int64, len(applied)),
		Elapsed: time.Since(start),
		Status:  store.Status(),
	}
	for i := range applied {
		report.Applied[i] = applied[i].Load()
	}
	if watch != nil {
		select {
		case <-watch.Done():
			report.WatchFired = watch.Err() == nil
		default:
		}
	}

	var families string
	if opts.Metrics {
		if families, err = exposition(store); err != nil {
			return err
		}
	}

	released = true
	if err := store.Release(ctx); err != nil {
		return err
	}

	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}
	if families != "" {
		fmt.Fprint(out, families)
	}
	return nil
}

func exposition(store *shardq.Store) (string, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(shardq.NewCollector(store, "")); err != nil {
		return "", err
	}
	mfs, err := reg.Gather()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func printReport(out io.Writer, r SimulationReport) {
	fmt.Fprintf(out, "simulated %d transactions in %s\n", r.Events, r.Elapsed.Round(time.Millisecond))
	for i, n := range r.Applied {
		fmt.Fprintf(out, "  channel %-3d applied %d\n", i, n)
	}
	if r.WatchFired {
		fmt.Fprintln(out, "  watch fired")
	}
	fmt.Fprint(out, r.Status.String())
}
