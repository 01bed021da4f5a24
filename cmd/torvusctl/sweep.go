package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/sweep"
)

// sweepCmd runs the expiry sweep once, for cron hosts that do not run the server
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale elevation and secret change requests",
	Long: `Expire stale elevation and secret change requests once and exit.

The server runs the same sweep on sweep_schedule. Use this command when
the schedule is driven externally.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.FromEnv())

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		st, err := buildStack(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer st.Close()

		sweeper, err := sweep.New(cfg.SweepSchedule, st.sweepJobs()...)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		counts, err := sweeper.RunOnce(context.Background())

		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %d expired\n", name, counts[name])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
