package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"assetdesk/backend/internal/config"
	"assetdesk/backend/internal/logging"
	"assetdesk/backend/internal/progress"
	"assetdesk/backend/internal/repository"
	"assetdesk/backend/pkg/models"
)

type env struct {
	logger *logging.Logger
	kv     repository.KeyValueStore
	close  func()
}

func main() {
	var envFile string
	var e env

	root := &cobra.Command{
		Use:           "seed",
		Short:         "Inspect and prepare onboarding tour progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := logging.NewLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			kv, closeKV, err := repository.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			e = env{logger: logger, kv: kv, close: closeKV}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.close != nil {
				e.close()
			}
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	root.AddCommand(
		&cobra.Command{
			Use:   "show USER_ID...",
			Short: "Print the progress record of each user",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.each(cmd.Context(), args, func(ctx context.Context, userID string, store *progress.Store) error {
					out, err := json.Marshal(store.Read(ctx))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", userID, out)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset USER_ID...",
			Short: "Delete progress so every role tour auto-starts again",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return e.each(cmd.Context(), args, func(ctx context.Context, userID string, store *progress.Store) error {
					if err := store.Reset(ctx); err != nil {
						return err
					}
					e.logger.Info("Reset tour progress", "user_id", userID)
					return nil
				})
			},
		},
		markCommand(&e, "complete", "Mark a role's tour completed", (*progress.Store).MarkCompleted),
		markCommand(&e, "dismiss", "Mark a role's tour dismissed", (*progress.Store).MarkDismissed),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func markCommand(e *env, name, short string, mark func(*progress.Store, context.Context, models.Role) error) *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   name + " USER_ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := models.ParseRole(roleName)
			if !ok {
				return fmt.Errorf("unknown role %q", roleName)
			}
			return e.each(cmd.Context(), args, func(ctx context.Context, userID string, store *progress.Store) error {
				if err := mark(store, ctx, role); err != nil {
					return err
				}
				e.logger.Info("Seeded tour progress", "user_id", userID, "role", role, "outcome", name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleName, "role", string(models.RoleUser), "Role whose tour to mark")
	return cmd
}

func (e *env) each(ctx context.Context, userIDs []string, fn func(context.Context, string, *progress.Store) error) error {
	for _, userID := range userIDs {
		store := progress.NewStore(repository.UserScope(e.kv, userID), progress.WithLogger(e.logger))
		if err := fn(ctx, userID, store); err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
	}
	return nil
}
