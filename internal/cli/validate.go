package cli

import (
	"fmt"
	"io"

	"github.com/rbaliyan/shardq/partition"
	"github.com/spf13/cobra"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Channels int
}

// MapReport summarizes a parsed shard map.
type MapReport struct {
	Path        string         `json:"path"`
	Valid       bool           `json:"valid"`
	Assignments map[string]int `json:"assignments"`
	Default     int            `json:"default"`
	Critical    []string       `json:"critical"`
	HashMethod  string         `json:"hash_method"`
	Error       string         `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <shard-map>",
		Short: "Check a shard map file",
		Long: "Parse a shard map and check it against a channel count.\n\n" +
			"Every explicit and default channel must be below --channels and the\n" +
			"hash method must be known.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Channels, "channels", "n", 1, "number of apply channels")
	return cmd
}

func runValidate(opts *ValidateOptions, path string, out io.Writer) error {
	if opts.Channels < 1 {
		return fmt.Errorf("--channels must be at least 1, got %d", opts.Channels)
	}

	m, err := partition.LoadShardMap(path)
	if err != nil {
		return err
	}
	report := MapReport{
		Path:        path,
		Valid:       true,
		Assignments: m.Assignments,
		Default:     m.Default,
		Critical:    m.CriticalShards(),
		HashMethod:  string(m.HashMethod),
	}
	verr := m.Validate(opts.Channels)
	if verr != nil {
		report.Valid = false
		report.Error = verr.Error()
	}

	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		printMapReport(out, report)
	}
	if verr != nil {
		return fmt.Errorf("shard map %s is invalid: %w", path, verr)
	}
	return nil
}

func printMapReport(out io.Writer, r MapReport) {
	if !r.Valid {
		fmt.Fprintf(out, "✗ %s\n  %s\n", r.Path, r.Error)
		return
	}
	fmt.Fprintf(out, "✓ %s\n", r.Path)
	fmt.Fprintf(out, "  explicit shards: %d\n", len(r.Assignments))
	if r.Default >= 0 {
		fmt.Fprintf(out, "  default channel: %d\n", r.Default)
	} else {
		fmt.Fprintf(out, "  default channel: none (%s)\n", r.HashMethod)
	}
	fmt.Fprintf(out, "  critical shards: %v\n", r.Critical)
}
