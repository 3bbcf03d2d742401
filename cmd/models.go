package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/sievelabs/sift/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available from the configured provider",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		zlog, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		config, err := getConfig()
		if err != nil {
			zlog.Fatal("getting a config", zap.Error(err))
		}

		caller := newCaller(ctx, config, zlog)
		if caller == nil {
			zlog.Fatal("a configured provider is required to list models")
		}

		kind, err := llmKind(config)
		if err != nil {
			zlog.Fatal("resolving provider", zap.Error(err))
		}

		models, err := modelCatalog.Models(ctx, kind, caller)
		if err != nil {
			zlog.Fatal("listing models", zap.Error(err))
		}

		for _, m := range models {
			if m.Name != "" && m.Name != m.ID {
				fmt.Printf("%s\t%s\n", m.ID, m.Name)
				continue
			}
			fmt.Println(m.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
