package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a render job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		tier, _ := cmd.Flags().GetString("tier")
		if prompt == "" {
			return errors.New("--prompt is required")
		}
		created, err := NewAPIClient(apiURL, drainSecret, ownerID).Submit(cmd.Context(), prompt, tier)
		if err != nil {
			return err
		}
		if created.Duplicate {
			cmd.Printf("Duplicate of job %s (%s)\n", created.JobID, created.Status)
			return nil
		}
		cmd.Printf("Queued job %s\n", created.JobID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := NewAPIClient(apiURL, drainSecret, ownerID).Job(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Job:       %s\n", job.ID)
		cmd.Printf("Status:    %s (%s, %d%%)\n", job.Status, job.Stage, job.Progress)
		cmd.Printf("Attempts:  %d\n", job.Attempts)
		if job.ResultRef != nil {
			cmd.Printf("Document:  %s\n", *job.ResultRef)
		}
		if job.ErrorMessage != nil {
			cmd.Printf("Error:     %s\n", *job.ErrorMessage)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("prompt", "", "document prompt")
	submitCmd.Flags().String("tier", "", "render tier")
	rootCmd.AddCommand(submitCmd, statusCmd)
}
