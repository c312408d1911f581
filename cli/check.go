package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stevemurr/json-mock-server/config"
	"github.com/stevemurr/json-mock-server/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Backend string
	Format  string // "text" | "json"
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <data-file>",
		Short: "Load a data file and list its collections",
		Long: `Load a data file the same way serve does and print one line per
collection: its name, shape, item count and the id the next POST would get.

Exits with code 2 when the file cannot be read or parsed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "store backend: json or sqlite (default: from file extension)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	return cmd
}

func runCheck(opts *CheckOptions, path string, w io.Writer) error {
	if !isValid(opts.Format, []string{"text", "json"}) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q", opts.Format))
	}
	cfg := config.Default()
	cfg.Backend = opts.Backend
	cfg.DataFile = path

	reg, err := openRegistry(cfg, store.WithLogger(opts.Logger(os.Stderr)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load data", err)
	}
	defer reg.Close()

	stats := reg.Stats()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tSHAPE\tITEMS\tNEXT ID")
	for _, st := range stats {
		items, next := "-", "-"
		if st.Kind == "array" {
			items = fmt.Sprint(st.Items)
			next = fmt.Sprint(st.NextID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, st.Kind, items, next)
	}
	return tw.Flush()
}
