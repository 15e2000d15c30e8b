package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/fentz26/lookout/internal/warnings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var lintsCmd = &cobra.Command{
	Use:   "lints",
	Short: "List task lints and whether they are enabled",
	RunE:  runLints,
}

func runLints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := cfg.TaskOptions()
	disabled := opts.Disabled
	opts.Disabled = nil

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tSUMMARY")
	for _, l := range warnings.TaskLinters(opts, zap.NewNop()) {
		enabled := "✓"
		if slices.Contains(disabled, l.Name()) {
			enabled = "✗"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name(), enabled, l.Summary())
	}
	return w.Flush()
}
