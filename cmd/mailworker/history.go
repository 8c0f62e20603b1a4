package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"mailworker/internal/storage"
	logx "mailworker/pkg/logx"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent executions from the history store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		driver := strings.ToLower(strings.TrimSpace(s.StorageDriver))
		path := strings.TrimSpace(s.StoragePath)
		if path == "" {
			path = storage.DefaultPath(driver)
		}
		st, err := storage.Open(storage.Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
		if err != nil {
			return err
		}
		if st == nil {
			return errors.WithHint(storage.ErrDisabled, "set StorageDriver to file or sqlite")
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		recs, err := st.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tKIND\tJOB\tTRIGGER\tOK\tDURATION\tDETAIL")
		for _, r := range recs {
			detail := r.Error
			if r.Missed > 0 {
				detail = strings.TrimSpace(fmt.Sprintf("missed=%d %s", r.Missed, detail))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				r.At.Local().Format(time.DateTime), r.Kind, r.JobName, r.TriggerID, r.OK,
				(time.Duration(r.DurationMS) * time.Millisecond).String(), detail)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show")
}
