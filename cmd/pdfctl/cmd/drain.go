package cmd

import (
	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one drain pass on the API",
	Long: `Ask the API to claim and render queued jobs once.

Example:
  pdfctl drain --max-jobs 10 --max-ms 20000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxJobs, _ := cmd.Flags().GetInt("max-jobs")
		maxMs, _ := cmd.Flags().GetInt("max-ms")

		res, err := NewAPIClient(apiURL, drainSecret, ownerID).Drain(cmd.Context(), maxJobs, maxMs)
		if err != nil {
			return err
		}
		cmd.Printf("processed=%d claimed=%d completed=%d requeued=%d failed=%d took=%dms\n",
			res.Processed, res.Claimed, res.Completed, res.Requeued, res.Failed, res.TookMs)
		return nil
	},
}

func init() {
	drainCmd.Flags().Int("max-jobs", 0, "maximum jobs to claim (server default when 0)")
	drainCmd.Flags().Int("max-ms", 0, "time budget in milliseconds (server default when 0)")
	rootCmd.AddCommand(drainCmd)
}
