package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prasenjit/mockpit/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mockpit",
		Short: "mockpit - a local mock API server",
		Long: `mockpit serves mock HTTP endpoints with switchable response variants,
request matching rules, templated bodies and a live admin API.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	bindEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// bindEnv maps MOCKPIT_SERVER_ADMINPORT and friends onto config keys
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MOCKPIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal
func setDefaults(v *viper.Viper) {
	d := config.Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.adminPort", d.Server.AdminPort)
	v.SetDefault("server.corsOrigins", d.Server.CORSOrigins)
	v.SetDefault("server.uiDir", d.Server.UIDir)

	v.SetDefault("mock.host", d.Mock.Host)
	v.SetDefault("mock.port", d.Mock.Port)

	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("history.maxRecords", d.History.MaxRecords)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// loadConfig builds the validated configuration from v
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid configuration"), err)
	}
	return cfg, nil
}
