package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailworker/internal/task/trigger"
)

var nextCount int

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Preview upcoming fire times for the configured schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		loc := s.Location()
		spec, err := trigger.ParseSchedule(s.Schedule, loc)
		if err != nil {
			return err
		}
		if nextCount <= 0 {
			nextCount = 1
		}
		now := time.Now()
		times, err := trigger.Upcoming(spec, now, nextCount)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "job %s, schedule %s\n", s.JobName, spec)
		if len(times) == 0 {
			fmt.Fprintln(out, "no upcoming fires")
			return nil
		}
		for i, t := range times {
			fmt.Fprintf(out, "%3d  %s  (in %s)\n", i+1, t.In(loc).Format(time.RFC3339), t.Sub(now).Round(time.Second))
		}
		return nil
	},
}

func init() {
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of fire times to show")
}
