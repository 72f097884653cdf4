package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/pitcrew/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	v         *viper.Viper
	configErr error

	// bindings attach command flags to config keys on each fresh viper.
	bindings []func(*viper.Viper)
)

var rootCmd = &cobra.Command{
	Use:   "pitcrew",
	Short: "Multi-agent coordination for predictive vehicle maintenance",
	Long: `pitcrew turns vehicle telemetry into maintenance workflows. Each workflow
moves through analysis, diagnosis, customer engagement and scheduling, with
agents exchanging messages over a prioritized in-process bus.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./pitcrew.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("baseline-agents", false, "register the built-in rule-based agents")
	bindFlag("config", rootCmd, "config")
	bindFlag("log.level", rootCmd, "log-level")
	bindFlag("agents.baseline", rootCmd, "baseline-agents")
}

// bindFlag makes flag name of cmd override the config key.
func bindFlag(key string, cmd *cobra.Command, name string) {
	bindings = append(bindings, func(v *viper.Viper) {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			f = cmd.Flags().Lookup(name)
		}
		_ = v.BindPFlag(key, f)
	})
}

func initConfig() {
	v = viper.New()
	configErr = nil
	config.SetDefaults(v)
	for _, bind := range bindings {
		bind(v)
	}

	cfgFile := v.GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pitcrew")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pitcrew")
	}

	// e.g. PITCREW_ENGINE_WORKERS for engine.workers
	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("failed to read config: %w", err)
		}
	}
}

// loadConfig returns the effective configuration: defaults, then the config
// file, then PITCREW_* variables, then flags.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.FromViper(v)
}
