// Package cli defines the verl-prime command line: run starts a training
// run, validate checks a configuration without starting anything.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZefanW/verl-prime/pkg/config"
)

var (
	cfgFile   string
	overrides []string
	verbose   bool

	version   = "dev"
	gitCommit = "unknown"
)

// rootCmd is the command tree root
var rootCmd = &cobra.Command{
	Use:   "verl-prime",
	Short: "Reward blending and advantage estimation for RL post-training",
	Long: `verl-prime drives the reward side of an RL post-training loop:
it consumes verifier-labeled rollout groups, blends verifier and process
reward model signals, estimates advantages (GAE or leave-one-out), and hands
assembled micro-batches to the policy trainer.`,
	SilenceUsage: true,
}

// SetVersionInfo injects build metadata from the linker
func SetVersionInfo(v, commit string) {
	version = v
	gitCommit = commit
	rootCmd.Version = fmt.Sprintf("%s (%s)", v, commit)
}

// Execute runs the command tree
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil,
		"config override as key=value (repeatable, e.g. --set algorithm.adv_estimator=rloo)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
}

// loadConfig builds the configuration from file, environment, and --set
// overrides, highest precedence last
func loadConfig() (*config.Config, error) {
	parsed := make(map[string]string, len(overrides))
	for _, kv := range overrides {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		parsed[key] = value
	}
	loader, err := config.NewLoader(config.LoaderOptions{
		ConfigFile:  cfgFile,
		EnableWatch: true,
		Overrides:   parsed,
	})
	if err != nil {
		return nil, err
	}
	cfg := loader.Config()
	if verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	return cfg, nil
}
