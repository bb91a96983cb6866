package cmd

import (
	"bufio"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/beamrec/beamrec/export"
	"github.com/beamrec/beamrec/load"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Convert event branches to other formats",
}

var (
	exportBranch string
	exportOutput string
)

var exportArrowCmd = &cobra.Command{
	Use:   "arrow FILE",
	Short: "Write one Event branch as an Arrow IPC file, one row per hit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		l, err := load.Open(args[0], load.Config{BranchesToTurnOn: []string{exportBranch}})
		if err != nil {
			logrus.Fatalf("Failed to open %s: %v", args[0], err)
		}
		defer l.Close()

		f, err := os.Create(exportOutput)
		if err != nil {
			logrus.Fatalf("Failed to create %s: %v", exportOutput, err)
		}
		w := bufio.NewWriter(f)
		n, err := export.WriteArrow(w, l, exportBranch)
		if err == nil {
			err = w.Flush()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			logrus.Fatalf("Export failed: %v", err)
		}
		logrus.WithFields(logrus.Fields{"file": exportOutput, "rows": n}).Info("export complete")
	},
}

func init() {
	exportArrowCmd.Flags().StringVar(&exportBranch, "branch", "Eloss", "Event branch to export")
	exportArrowCmd.Flags().StringVarP(&exportOutput, "output", "o", "events.arrow", "Output file name")
	exportCmd.AddCommand(exportArrowCmd)
	rootCmd.AddCommand(exportCmd)
}
