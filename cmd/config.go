package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/beamrec/beamrec/sim"
)

// loadRunConfig parses a run file on top of the defaults. Unknown keys are
// errors so that typos do not silently fall back to a default.
func loadRunConfig(path string) (sim.RunConfig, error) {
	cfg := sim.DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default run configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(sim.DefaultRunConfig()); err != nil {
			logrus.Fatalf("Failed to encode default config: %v", err)
		}
		_ = enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
