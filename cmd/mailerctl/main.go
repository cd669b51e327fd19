package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/mailing-api/config"
	"github.com/jwalitptl/mailing-api/internal/app"
	"github.com/jwalitptl/mailing-api/internal/repository/postgres"
	"github.com/jwalitptl/mailing-api/migrations"
	"github.com/jwalitptl/mailing-api/pkg/logger"
)

var (
	cfgDir  string
	verbose bool
	asUser  string
	tokenOf string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailerctl",
	Short: "Operator tool for the mailing service",
	Long: `mailerctl runs maintenance tasks against the mailing service's storage:
migrations, status refreshes, manual sends, token minting and event tailing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "directory containing config.yml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(mailingsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(eventsCmd)
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	if cfgDir != "" {
		return config.LoadConfig(cfgDir)
	}
	return config.LoadConfig()
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return app.New(ctx, cfg, logger.ForEnv(cfg.Env, level), app.Deps{})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply or inspect database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := postgres.NewDB(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return migrations.Run(db.DB, args[0])
	},
}

var mailingsCmd = &cobra.Command{
	Use:   "mailings",
	Short: "Mailing maintenance commands",
}

var mailingsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute every mailing's status from its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Mailings.RefreshAll(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "%d mailing(s) changed status\n", n)
		return err
	},
}

var mailingsSendCmd = &cobra.Command{
	Use:   "send [mailing-id]",
	Short: "Dispatch a started mailing as its owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid mailing id: %w", err)
		}
		userID, err := uuid.Parse(asUser)
		if err != nil {
			return fmt.Errorf("invalid --as user id: %w", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Users.Resolve(cmd.Context(), userID)
		if err != nil {
			return err
		}
		res, err := a.Mailings.Send(cmd.Context(), u.Actor(), id)
		if res.Total > 0 {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	mailingsSendCmd.Flags().StringVar(&asUser, "as", "", "id of the user to send as (must own the mailing)")
	_ = mailingsSendCmd.MarkFlagRequired("as")

	mailingsCmd.AddCommand(mailingsRefreshCmd)
	mailingsCmd.AddCommand(mailingsSendCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token commands",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(tokenOf)
		if err != nil {
			return fmt.Errorf("invalid --user id: %w", err)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Users.Resolve(cmd.Context(), userID); err != nil {
			return err
		}
		token, err := a.Tokens.Issue(userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenOf, "user", "", "id of the user the token identifies")
	_ = tokenIssueCmd.MarkFlagRequired("user")
	tokenCmd.AddCommand(tokenIssueCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Event stream commands",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events published by the outbox worker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		broker, err := a.Broker(ctx)
		if err != nil {
			return err
		}
		msgs, err := broker.Subscribe(ctx, a.Config.Broker.Channel)
		if err != nil {
			return err
		}
		for body := range msgs {
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
		}
		return nil
	},
}

func init() {
	eventsCmd.AddCommand(eventsWatchCmd)
}
