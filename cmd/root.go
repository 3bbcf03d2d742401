package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "sift"
)

type Config struct {
	Provider string          `mapstructure:"provider"`
	Session  *SessionConfig  `mapstructure:"session"`
	Criteria *CriteriaConfig `mapstructure:"criteria"`
	AI       *AIConfig       `mapstructure:"ai"`

	Anthropic *ProviderConfig `mapstructure:"anthropic"`
	OpenAI    *ProviderConfig `mapstructure:"openai"`
	Gemini    *ProviderConfig `mapstructure:"gemini"`
}

type SessionConfig struct {
	Path            string   `mapstructure:"path"`
	Mode            string   `mapstructure:"mode"`
	SearchLocator   string   `mapstructure:"search-locator"`
	StartPage       int      `mapstructure:"start-page"`
	TargetPageCount int      `mapstructure:"target-page-count"`
	Formats         []string `mapstructure:"formats"`
	IncludeViewed   bool     `mapstructure:"include-viewed"`
}

type CriteriaConfig struct {
	Jobs   string `mapstructure:"jobs"`
	People string `mapstructure:"people"`
}

type AIConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	FullEnabled   bool `mapstructure:"full-enabled"`
	PeopleEnabled bool `mapstructure:"people-enabled"`
}

type ProviderConfig struct {
	APIKeyFile        string  `mapstructure:"api-key-file"`
	BaseURL           string  `mapstructure:"base-url"`
	Model             string  `mapstructure:"model"`
	MaxRetries        int     `mapstructure:"max-retries"`
	MaxLogLength      int     `mapstructure:"max-log-length"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "sift is a cli for running scraped job and people records through LLM evaluation",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envBindings := map[string]string{
		"session.path":           "SIFT_SESSION_PATH",
		"anthropic.api-key-file": "SIFT_ANTHROPIC_KEY_FILE",
		"openai.api-key-file":    "SIFT_OPENAI_KEY_FILE",
		"gemini.api-key-file":    "SIFT_GEMINI_KEY_FILE",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is sift.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Every command works from flags and environment alone; only an
		// explicitly named file must exist.
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && cfgFile == "" {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Session == nil {
		config.Session = &SessionConfig{}
	}
	if config.Criteria == nil {
		config.Criteria = &CriteriaConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.Session.Path == "" {
		config.Session.Path = viper.GetString("session.path")
	}
	if config.Session.Path == "" {
		config.Session.Path = app + "-session.db"
	}

	return config, nil
}

func (c *Config) providerConfig(name string) *ProviderConfig {
	switch name {
	case "anthropic":
		return c.Anthropic
	case "openai":
		return c.OpenAI
	case "gemini":
		return c.Gemini
	}
	return nil
}
