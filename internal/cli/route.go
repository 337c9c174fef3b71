package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rbaliyan/shardq"
	"github.com/rbaliyan/shardq/assignment"
	"github.com/rbaliyan/shardq/partition"
	"github.com/spf13/cobra"
)

// RouteOptions holds flags for the route command.
type RouteOptions struct {
	*RootOptions
	Kind     string
	MapPath  string
	Channels int
	Replicas int
}

// Route is the routing decision for one shard.
type Route struct {
	Shard    string `json:"shard"`
	Channel  int    `json:"channel"`
	Critical bool   `json:"critical"`
}

// NewRouteCommand creates the route command.
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RouteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "route <shard>...",
		Short: "Show the channel each shard is routed to",
		Long: "Route one event per shard through a partitioner and print the\n" +
			"target channel. Round-robin assignments are kept in memory, so\n" +
			"shards are numbered in argument order.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "partitioner kind (default shard-list with --map, hash otherwise)")
	cmd.Flags().StringVar(&opts.MapPath, "map", "", "shard map file")
	cmd.Flags().IntVarP(&opts.Channels, "channels", "n", 1, "number of apply channels")
	cmd.Flags().IntVar(&opts.Replicas, "replicas", 0, "virtual nodes per channel for consistent-hash")
	return cmd
}

func (o *RouteOptions) partitioner() (partition.Partitioner, error) {
	kind := partition.Kind(o.Kind)
	if kind == "" {
		kind = partition.KindHash
		if o.MapPath != "" {
			kind = partition.KindShardList
		}
	}

	opts := []partition.Option{
		partition.WithReplicas(o.Replicas),
		partition.WithAssignmentLookup(assignment.NewMemoryStore()),
	}
	if kind == partition.KindShardList {
		if o.MapPath == "" {
			return nil, fmt.Errorf("--map is required for kind %q", kind)
		}
		m, err := partition.LoadShardMap(o.MapPath)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(o.Channels); err != nil {
			return nil, err
		}
		opts = append(opts, partition.WithShardMap(m))
	}
	return partition.New(kind, opts...)
}

func runRoute(ctx context.Context, opts *RouteOptions, shards []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Channels < 1 {
		return fmt.Errorf("--channels must be at least 1, got %d", opts.Channels)
	}
	p, err := opts.partitioner()
	if err != nil {
		return err
	}
	p.SetPartitions(opts.Channels)

	routes := make([]Route, 0, len(shards))
	for i, shard := range shards {
		resp, err := p.Partition(ctx, shardq.NewChangeEvent(int64(i+1), shard, struct{}{}), 0)
		if err != nil {
			return fmt.Errorf("route %q: %w", shard, err)
		}
		routes = append(routes, Route{Shard: shard, Channel: resp.Partition, Critical: resp.Critical})
	}

	if opts.Format == "json" {
		return writeJSON(out, routes)
	}
	for _, r := range routes {
		mark := ""
		if r.Critical {
			mark = " (critical)"
		}
		fmt.Fprintf(out, "%-24s -> %d%s\n", r.Shard, r.Channel, mark)
	}
	return nil
}
