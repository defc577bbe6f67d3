package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pdfforge/internal/adapter/repo"
	"pdfforge/internal/dedup"
	"pdfforge/internal/dispatch"
	"pdfforge/internal/infra"
	"pdfforge/internal/infra/credentials"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back schema migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		if len(args) == 1 && args[0] == "down" {
			steps, _ := cmd.Flags().GetInt("steps")
			if err := infra.MigrateDown(cfg.DatabaseURL, steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		}
		if err := infra.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		cmd.Println("Migrations applied")
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune-fingerprints",
	Short: "Clear dedup fingerprints from old finished jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		logger := infra.NewLogger(cfg, "pdfctl")
		db, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		retention := cfg.FingerprintRetention
		if v, _ := cmd.Flags().GetDuration("retention"); v > 0 {
			retention = v
		}
		jobs := repo.NewJobRepository(infra.NewSQLRunner(db, logger))
		n, err := dedup.NewHousekeeper(jobs, retention, logger).Prune(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Cleared %d fingerprint(s) older than %s\n", n, retention)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover-stale",
	Short: "Requeue jobs stuck in processing after a worker was lost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		logger := infra.NewLogger(cfg, "pdfctl")
		db, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		jobs := repo.NewJobRepository(infra.NewSQLRunner(db, logger))
		n, err := dispatch.NewRecoverer(jobs, cfg.StaleAfter, cfg.DispatchMaxAttempts, logger).Recover(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Recovered %d job(s) idle in processing longer than %s\n", n, cfg.StaleAfter)
		return nil
	},
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token <provider> <token>",
	Short: "Store a provider API key in the database",
	Long: `Store a provider API key in integration_tokens. Workers read it when the
matching environment variable is empty.

Example:
  pdfctl set-token openai sk-...`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := strings.ToLower(strings.TrimSpace(args[0]))
		if provider != credentials.ProviderOpenAI {
			return fmt.Errorf("unsupported provider %q", args[0])
		}
		ctx := cmd.Context()
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		db, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := credentials.NewStore(infra.NewSQLRunner(db, infra.NewLogger(cfg, "pdfctl")))
		if err := store.SetToken(ctx, provider, args[1]); err != nil {
			return err
		}
		cmd.Printf("Stored %s token\n", provider)
		return nil
	},
}

var deleteTokenCmd = &cobra.Command{
	Use:   "delete-token <provider>",
	Short: "Remove a stored provider API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := strings.ToLower(strings.TrimSpace(args[0]))
		if provider != credentials.ProviderOpenAI {
			return fmt.Errorf("unsupported provider %q", args[0])
		}
		ctx := cmd.Context()
		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		db, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := credentials.NewStore(infra.NewSQLRunner(db, infra.NewLogger(cfg, "pdfctl")))
		existed, err := store.DeleteToken(ctx, provider)
		if err != nil {
			return err
		}
		if !existed {
			cmd.Printf("No %s token stored\n", provider)
			return nil
		}
		cmd.Printf("Deleted %s token\n", provider)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Int("steps", 1, "migrations to roll back with down")
	pruneCmd.Flags().Duration("retention", 0, "override FINGERPRINT_RETENTION")
	rootCmd.AddCommand(migrateCmd, pruneCmd, recoverCmd, setTokenCmd, deleteTokenCmd)
}
