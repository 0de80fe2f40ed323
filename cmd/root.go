package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawkym/agentpipe-orchestrator/internal/version"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

var (
	cfgFile     string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "agentpipe-orchestrator",
	Short: "Route and drive multi-agent conversations",
	Long: `agentpipe-orchestrator coordinates bounded turn-taking dialogues between
LLM-backed agents: it routes a message to a single agent or a group chat,
enforces circuit breakers and budgets, and gates risky actions behind
human-in-the-loop approval.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionString())

			if hasUpdate, latestVersion, err := version.CheckForUpdate(); err == nil && hasUpdate {
				fmt.Printf("\nUpdate available: %s (current: %s)\n", latestVersion, version.GetShortVersion())
				fmt.Printf("Run 'agentpipe-orchestrator version' for more details\n")
			}
			os.Exit(0)
		}
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if len(os.Args) < 2 || (os.Args[1] != "serve" && os.Args[1] != "dashboard") {
		PrintLogo()
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentpipe-orchestrator.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose logging output")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "show version information")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding verbose flag: %v\n", err)
	}
}

// initConfig wires up structured logging before config loading, since config
// loading itself wants to log what it found (or didn't).
func initConfig() {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.InitLogger(os.Stderr, level, true)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		log.WithField("config_file", cfgFile).Debug("using specified config file")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			log.WithError(err).Error("failed to get home directory")
			fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".agentpipe-orchestrator")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config_file", viper.ConfigFileUsed()).Info("loaded configuration file")
	} else {
		log.WithError(err).Debug("no config file found, using built-in defaults")
	}
}
