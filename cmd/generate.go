package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/metrics"
	"github.com/beamrec/beamrec/sim"
	"github.com/beamrec/beamrec/store"
)

var (
	runConfigPath    string // YAML run configuration
	events           int64  // Number of events to generate
	seed             int64  // Generator seed
	outputFile       string // Output file name
	maxEventsPerFile int64  // Events per file before rolling over
	overwrite        bool   // Replace existing output files
	codecName        string // Basket compression
	dataVersion      int32  // Output layout version
	metricsFile      string // Prometheus text file written after the run
)

// applyGenerateFlags overrides the run configuration with every flag the
// user set explicitly.
func applyGenerateFlags(cmd *cobra.Command, cfg *sim.RunConfig) error {
	flags := cmd.Flags()
	if flags.Changed("events") {
		cfg.Events = events
	}
	if flags.Changed("seed") {
		cfg.Generator.Seed = seed
	}
	if flags.Changed("output") {
		cfg.Output.FileName = outputFile
	}
	if flags.Changed("max-events-per-file") {
		cfg.Output.MaxEventsPerFile = maxEventsPerFile
	}
	if flags.Changed("overwrite") {
		cfg.Output.Overwrite = overwrite
	}
	if flags.Changed("codec") {
		c, err := store.ParseCodec(codecName)
		if err != nil {
			return err
		}
		cfg.Output.Codec = c
	}
	if flags.Changed("data-version") {
		v, err := compat.Parse(dataVersion)
		if err != nil {
			return err
		}
		cfg.Output.DataVersion = v
	}
	return nil
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Simulate a toy beam line and write the events",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRunConfig(runConfigPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := applyGenerateFlags(cmd, &cfg); err != nil {
			logrus.Fatalf("Invalid flag: %v", err)
		}
		metrics.Register()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		paths, err := sim.Run(ctx, cfg)
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if metricsFile != "" {
			if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil {
				logrus.Fatalf("Failed to write metrics: %v", err)
			}
		}
	},
}

func init() {
	generateCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a YAML run configuration (see `beamrec config`)")
	generateCmd.Flags().Int64Var(&events, "events", 100, "Number of events to generate")
	generateCmd.Flags().Int64Var(&seed, "seed", 1, "Seed of the event generator")
	generateCmd.Flags().StringVar(&outputFile, "output", "output.bdr", "Output file name")
	generateCmd.Flags().Int64Var(&maxEventsPerFile, "max-events-per-file", 0, "Roll over to a new file after this many events (0 disables)")
	generateCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing output files")
	generateCmd.Flags().StringVar(&codecName, "codec", "zstd", "Basket compression (none, lz4, zstd)")
	generateCmd.Flags().Int32Var(&dataVersion, "data-version", int32(compat.Current), "Output layout version")
	generateCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")

	rootCmd.AddCommand(generateCmd)
}
