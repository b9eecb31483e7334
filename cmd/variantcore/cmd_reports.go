package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"variantcore/internal/blob"
	"variantcore/internal/report"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage stored run summaries",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the id of every stored run, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := openReports(cmd)
		if err != nil {
			return err
		}
		ids, err := w.Runs(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
				return err
			}
		}
		return nil
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Print the summary of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openReports(cmd)
		if err != nil {
			return err
		}
		s, err := w.Read(cmd.Context(), args[0])
		if errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("no report for run %s", args[0])
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), s)
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID...",
	Short: "Delete the summaries of the given runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openReports(cmd)
		if err != nil {
			return err
		}
		var missing []string
		for _, id := range args {
			removed, err := w.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !removed {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("no report for runs %v", missing)
		}
		return nil
	},
}

func init() {
	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsDeleteCmd)
}

// openReports opens the configured report store without touching the variant store.
func openReports(cmd *cobra.Command) (*report.Writer, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	blobs, err := openReportStore(cmd.Context(), cfg.Report)
	if err != nil {
		return nil, err
	}
	return report.NewWriter(blobs, logger), nil
}
