package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/beamrec/beamrec/combine"
	"github.com/beamrec/beamrec/output"
	"github.com/beamrec/beamrec/store"
)

var (
	combineOutput    string
	combineWorkers   int
	combineCodec     string
	combineOverwrite bool
)

var combineCmd = &cobra.Command{
	Use:   "combine FILE...",
	Short: "Merge output files into one",
	Long:  "Merge output files of the same data version and beam line into one file. Events keep the order of the inputs; run histograms and summaries are summed.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		codec, err := store.ParseCodec(combineCodec)
		if err != nil {
			logrus.Fatalf("Invalid codec: %v", err)
		}
		opts := combine.Options{Output: output.DefaultConfig(), Workers: combineWorkers}
		opts.Output.Codec = codec
		opts.Output.Overwrite = combineOverwrite

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		sum, err := combine.Combine(ctx, combineOutput, args, opts)
		if err != nil {
			logrus.Fatalf("Combine failed: %v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d events from %d files\n", sum.Path, sum.Events, sum.Files)
	},
}

func init() {
	combineCmd.Flags().StringVarP(&combineOutput, "output", "o", "combined.bdr", "Output file name")
	combineCmd.Flags().IntVar(&combineWorkers, "workers", 0, "Concurrent header scans (0 uses GOMAXPROCS)")
	combineCmd.Flags().StringVar(&combineCodec, "codec", "zstd", "Basket compression (none, lz4, zstd)")
	combineCmd.Flags().BoolVar(&combineOverwrite, "overwrite", false, "Replace an existing output file")
	rootCmd.AddCommand(combineCmd)
}
