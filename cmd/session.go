package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sievelabs/sift/internal/logger"
	"github.com/sievelabs/sift/internal/session"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage the persisted session",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current session state",
	Run: func(_ *cobra.Command, _ []string) {
		withStore(func(ctx context.Context, store *session.Store, _ *zap.Logger) error {
			state, err := store.Load(ctx)
			if err != nil {
				return err
			}
			pretty, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(pretty))
			return nil
		})
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Mark the active session idle, keeping its state",
	Run: func(_ *cobra.Command, _ []string) {
		withStore(func(ctx context.Context, store *session.Store, log *zap.Logger) error {
			active, err := store.Active(ctx)
			if err != nil {
				return err
			}
			if !active {
				log.Info("no active session")
				return nil
			}
			if err := store.Stop(ctx); err != nil {
				return err
			}
			log.Info("session stopped")
			return nil
		})
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all session state and buffered records",
	Run: func(_ *cobra.Command, _ []string) {
		withStore(func(ctx context.Context, store *session.Store, log *zap.Logger) error {
			prompt := promptui.Select{
				Label: "Delete all session state and buffered records?",
				Items: []string{PromptYes, PromptNo},
			}
			_, answer, err := prompt.Run()
			if err != nil {
				return err
			}
			if answer != PromptYes {
				log.Info("keeping session state")
				return nil
			}
			if err := store.Clear(ctx); err != nil {
				return err
			}
			log.Info("session cleared")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStatusCmd, sessionStopCmd, sessionClearCmd)
}

// withStore opens the session store for a subcommand and handles the shared
// failure modes.
func withStore(fn func(context.Context, *session.Store, *zap.Logger) error) {
	ctx := context.Background()

	zlog, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		zlog.Fatal("getting a config", zap.Error(err))
	}

	store, err := session.Open(config.Session.Path, zlog)
	if err != nil {
		zlog.Fatal("opening session store",
			zap.String("path", config.Session.Path),
			zap.Error(err),
		)
	}
	defer store.Close()

	if err := fn(ctx, store, zlog); err != nil {
		zlog.Fatal("session command failed", zap.Error(err))
	}
}
