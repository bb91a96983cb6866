package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/load"
	"github.com/beamrec/beamrec/store"
)

var showBranches bool // List every branch of every tree

// inspect prints the header, trees and dynamic branches of a file.
func inspect(w io.Writer, path string, branches bool) error {
	l, err := load.Open(path, load.Config{})
	if err != nil {
		return err
	}
	defer l.Close()
	r, err := store.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	h, last := l.Header(), l.FinalHeader()
	fmt.Fprintf(w, "file:      %s\n", path)
	fmt.Fprintf(w, "id:        %s\n", h.FileID)
	fmt.Fprintf(w, "type:      %s\n", h.FileType)
	fmt.Fprintf(w, "version:   %v (%s, %s)\n", l.Version(), h.ToolVersion, h.EngineVersion)
	fmt.Fprintf(w, "created:   %s\n", h.TimeStamp)
	fmt.Fprintf(w, "events:    %d in file, %d skipped, %d requested, %d original\n",
		last.NEventsInFile, last.NEventsInFileSkipped, last.NEventsRequested, last.NOriginalEvents)
	if len(h.CombinedFiles) > 0 {
		fmt.Fprintf(w, "combined:  %s\n", strings.Join(h.CombinedFiles, ", "))
	}
	for _, shape := range []hits.Shape{hits.Plane, hits.Cylinder, hits.Sphere} {
		if names := l.SamplerNames(shape); len(names) > 0 {
			fmt.Fprintf(w, "samplers:  %s %s\n", shape, strings.Join(names, " "))
		}
	}
	if names := l.CollimatorNames(); len(names) > 0 {
		fmt.Fprintf(w, "collimators: %s\n", strings.Join(names, " "))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTREE\tBRANCH\tKIND\tENTRIES\tSTORED\tRAW")
	for _, name := range r.TreeNames() {
		t, _ := r.Tree(name)
		var stored, raw int64
		for _, b := range t.Branches() {
			stored += b.StoredSize()
			raw += b.RawSize()
		}
		fmt.Fprintf(tw, "%s\t\t\t%d\t%s\t%s\n", name, t.Entries(),
			humanize.IBytes(uint64(stored)), humanize.IBytes(uint64(raw)))
		if !branches {
			continue
		}
		for _, b := range t.Branches() {
			fmt.Fprintf(tw, "\t%s\t%s v%d\t\t%s\t%s\n", b.Name, b.Kind, b.Version,
				humanize.IBytes(uint64(b.StoredSize())), humanize.IBytes(uint64(b.RawSize())))
		}
	}
	return tw.Flush()
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the header and layout of an output file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspect(cmd.OutOrStdout(), args[0], showBranches); err != nil {
			logrus.Fatalf("Inspect failed: %v", err)
		}
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&showBranches, "branches", false, "List every branch of every tree")
	rootCmd.AddCommand(inspectCmd)
}
