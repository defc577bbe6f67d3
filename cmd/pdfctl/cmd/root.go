package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	apiURL      string
	drainSecret string
	ownerID     string
)

var rootCmd = &cobra.Command{
	Use:   "pdfctl",
	Short: "pdfctl operates a pdfforge deployment",
	Long: `pdfctl is the operator tool for pdfforge.

Commands that talk to the API use --url (PDFFORGE_API_URL). Commands that
touch the database read DATABASE_URL and the rest of the service
configuration from the environment or a .env file.

  pdfctl migrate up
  pdfctl drain --max-jobs 10
  pdfctl submit --prompt "Invoice for ACME, net 30"
  pdfctl status <job-id>
  pdfctl prune-fingerprints
  pdfctl set-token openai sk-...`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", envOr("PDFFORGE_API_URL", "http://localhost:8080"), "pdfforge API base URL")
	rootCmd.PersistentFlags().StringVar(&drainSecret, "secret", os.Getenv("DRAIN_SECRET"), "drain trigger secret")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "owner id sent as X-Owner-ID")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
