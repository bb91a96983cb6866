// Package combine merges files written by independent workers into one.
// Headers are scanned concurrently; events and run records are then folded
// into a single registry in input order.
package combine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/load"
	"github.com/beamrec/beamrec/output"
	"github.com/beamrec/beamrec/rec"
)

var (
	ErrNoInputs        = errors.New("no input files")
	ErrVersionMismatch = errors.New("inputs have different data versions")
	ErrDuplicateFile   = errors.New("input file given twice")
	ErrSchemaMismatch  = errors.New("input branches differ from the first input")
	ErrPartialRun      = errors.New("files of a rolled over run must start at its first file and have no gaps")
)

// Options configures a merge.
type Options struct {
	// Output holds codec, basket size and overwrite settings. FileName and
	// DataVersion are taken from the call and the inputs.
	Output output.Config
	// Workers bounds the concurrent header scan. 0 means GOMAXPROCS.
	Workers int
}

// Summary describes a finished merge.
type Summary struct {
	Path            string
	Files           int
	Events          int64
	NOriginalEvents int64
}

type scanned struct {
	path      string
	version   compat.DataVersion
	fileID    string
	runID     string
	fileIndex int32
	events    int64
	original  int64
	requested int64
}

// scan reads the headers of every input concurrently.
func scan(ctx context.Context, inputs []string, workers int) ([]scanned, error) {
	out := make([]scanned, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, path := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			l, err := load.Open(path, load.Config{})
			if err != nil {
				return err
			}
			defer l.Close()
			h, last := l.Header(), l.FinalHeader()
			original := last.NOriginalEvents
			if original == 0 {
				original = l.NumberOfEvents()
			}
			out[i] = scanned{
				path:      path,
				version:   l.Version(),
				fileID:    h.FileID,
				runID:     h.RunID,
				fileIndex: h.FileIndex,
				events:    l.NumberOfEvents(),
				original:  original,
				requested: last.NEventsRequested,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning inputs: %w", err)
	}
	return out, nil
}

func check(files []scanned) error {
	seen := make(map[string]string, len(files))
	for _, f := range files {
		if f.version != files[0].version {
			return fmt.Errorf("%w: %s is %v, %s is %v", ErrVersionMismatch, files[0].path, files[0].version, f.path, f.version)
		}
		if prev, ok := seen[f.fileID]; ok {
			return fmt.Errorf("%w: %s and %s share file ID %s", ErrDuplicateFile, prev, f.path, f.fileID)
		}
		seen[f.fileID] = f.path
	}
	return nil
}

// runOwners returns, per input, whether its run records are folded in. The
// run records of a rolled over run are cumulative, so of the files sharing
// a run ID only the one with the highest index contributes them, and the
// given files must be that run's files 0..n without gaps.
func runOwners(files []scanned) ([]bool, error) {
	owner := make([]bool, len(files))
	runs := make(map[string][]int)
	for i, f := range files {
		if f.runID == "" {
			owner[i] = true
			continue
		}
		runs[f.runID] = append(runs[f.runID], i)
	}
	for id, members := range runs {
		slices.SortFunc(members, func(a, b int) int { return int(files[a].fileIndex) - int(files[b].fileIndex) })
		for k, i := range members {
			if files[i].fileIndex != int32(k) {
				return nil, fmt.Errorf("%w: run %s has %s as file %d, want file %d",
					ErrPartialRun, id, files[i].path, files[i].fileIndex, k)
			}
		}
		owner[members[len(members)-1]] = true
	}
	return owner, nil
}

// Combine writes every event of inputs, in order, to a new file at path.
// Run histograms are summed and run summaries accumulated; the header is
// marked COMBINED and lists the inputs.
func Combine(ctx context.Context, path string, inputs []string, opts Options) (Summary, error) {
	if len(inputs) == 0 {
		return Summary{}, ErrNoInputs
	}
	files, err := scan(ctx, inputs, opts.Workers)
	if err != nil {
		return Summary{}, err
	}
	if err := check(files); err != nil {
		return Summary{}, err
	}
	owners, err := runOwners(files)
	if err != nil {
		return Summary{}, err
	}

	first, err := load.Open(inputs[0], load.Config{AllBranchesOn: true})
	if err != nil {
		return Summary{}, err
	}
	reg, err := registryLike(first)
	if err != nil {
		first.Close()
		return Summary{}, err
	}

	cfg := opts.Output
	cfg.FileName = path
	cfg.DataVersion = files[0].version
	cfg.MaxEventsPerFile = 0
	cfg.Store = reg.Config()
	w, err := output.New(cfg, reg, nil)
	if err != nil {
		first.Close()
		return Summary{}, err
	}
	sum := Summary{Files: len(files)}
	var requested int64
	for i, f := range files {
		sum.NOriginalEvents += f.original
		if owners[i] {
			requested += f.requested
		}
	}
	w.SetEventsRequested(requested)
	if err := w.SetProvenance(rec.FileTypeCombined, inputs, sum.NOriginalEvents); err != nil {
		first.Close()
		return Summary{}, err
	}
	err = writeOneShots(w, first)
	first.Close()
	if err != nil {
		w.Close()
		return Summary{}, err
	}

	reg.ClearRunLevel()
	for i, f := range files {
		n, err := fold(ctx, w, reg, f.path, owners[i])
		if err != nil {
			w.Close()
			return Summary{}, err
		}
		sum.Events += n
	}
	if err := w.MarkRunFilled(); err != nil {
		w.Close()
		return Summary{}, err
	}
	if err := w.WriteFileRunLevel(); err != nil {
		return Summary{}, err
	}
	sum.Path = w.Paths()[0]
	logrus.WithFields(logrus.Fields{"file": sum.Path, "inputs": sum.Files, "events": sum.Events}).Info("files combined")
	return sum, nil
}

// registryLike builds a registry whose records have the layout of the
// branches bound in l.
func registryLike(l *load.Loader) (*event.Registry, error) {
	cfg := event.Config{
		Primary:            l.Primary != nil,
		PrimaryGlobal:      l.PrimaryGlobal != nil,
		Eloss:              l.Eloss != nil,
		ElossVacuum:        l.ElossVacuum != nil,
		ElossTunnel:        l.ElossTunnel != nil,
		ElossWorld:         l.ElossWorld != nil,
		ElossWorldExit:     l.ElossWorldExit != nil,
		ElossWorldContents: l.ElossWorldContents != nil,
		PrimaryHits:        l.PrimaryFirstHit != nil,
		Trajectory:         l.Trajectory != nil,
		ApertureImpacts:    l.ApertureImpacts != nil,
		Histograms:         event.HistogramConfig{Disabled: l.Histos == nil, BinWidth: 1},
	}
	for _, loss := range []*rec.Loss{l.Eloss, l.ElossVacuum, l.ElossTunnel, l.ElossWorldContents, l.PrimaryFirstHit} {
		if loss != nil {
			cfg.Loss = loss.Options()
			break
		}
	}
	if l.Trajectory != nil {
		cfg.TrajectoryColumns = l.Trajectory.Options()
	}
	d := event.Dynamic{
		Samplers:  l.SamplerNames(hits.Plane),
		SamplersC: l.SamplerNames(hits.Cylinder),
		SamplersS: l.SamplerNames(hits.Sphere),
	}
	for _, shape := range []hits.Shape{hits.Plane, hits.Cylinder, hits.Sphere} {
		if names := l.SamplerNames(shape); len(names) > 0 {
			s, _ := l.Sampler(names[0])
			cfg.Sampler = s.Options()
			break
		}
	}
	if cfg.Primary && !cfg.Sampler.Any() {
		cfg.Sampler = l.Primary.Options()
	}
	for _, name := range l.CollimatorNames() {
		c, _ := l.Collimator(name)
		cfg.Collimator = c.Options()
		d.Collimators = append(d.Collimators, c.Info())
	}

	var table *rec.ParticleData
	if pd := l.ParticleData(); pd != nil {
		table = pd
	} else {
		table = rec.DefaultParticleData()
	}
	reg := event.New(table)
	reg.InitialiseFixed(cfg)
	if err := reg.InitialiseDynamic(d); err != nil {
		return nil, fmt.Errorf("rebuilding registry of %s: %w", l.Path(), err)
	}
	return reg, nil
}

func writeOneShots(w *output.Writer, l *load.Loader) error {
	if err := w.NewFile(); err != nil {
		return err
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if pd := l.ParticleData(); pd != nil {
		if err := w.WriteParticleData(pd); err != nil {
			return err
		}
	}
	if b := l.Beam(); b != nil {
		if err := w.WriteBeam(b.BeamDefinition); err != nil {
			return err
		}
	}
	if o := l.Options(); o != nil {
		if err := w.WriteOptions(o); err != nil {
			return err
		}
	}
	if m := l.Model(); m != nil {
		if err := w.WriteModel(m); err != nil {
			return err
		}
	}
	return nil
}

func copyIf[T any](dst, src *T, fillFrom func(*T, *T)) func() {
	return func() {
		if dst != nil && src != nil {
			fillFrom(dst, src)
		}
	}
}

// copies pairs every registry record with the loaded record of the same
// branch.
func copies(reg *event.Registry, l *load.Loader) ([]func(), error) {
	out := []func(){
		copyIf(reg.Primary, l.Primary, (*rec.Sampler).FillFrom),
		copyIf(reg.PrimaryGlobal, l.PrimaryGlobal, (*rec.Coords).FillFrom),
		copyIf(reg.Eloss, l.Eloss, (*rec.Loss).FillFrom),
		copyIf(reg.ElossVacuum, l.ElossVacuum, (*rec.Loss).FillFrom),
		copyIf(reg.ElossTunnel, l.ElossTunnel, (*rec.Loss).FillFrom),
		copyIf(reg.ElossWorld, l.ElossWorld, (*rec.LossWorld).FillFrom),
		copyIf(reg.ElossWorldExit, l.ElossWorldExit, (*rec.LossWorld).FillFrom),
		copyIf(reg.ElossWorldContents, l.ElossWorldContents, (*rec.Loss).FillFrom),
		copyIf(reg.PrimaryFirstHit, l.PrimaryFirstHit, (*rec.Loss).FillFrom),
		copyIf(reg.PrimaryLastHit, l.PrimaryLastHit, (*rec.Loss).FillFrom),
		copyIf(reg.Trajectory, l.Trajectory, (*rec.Trajectory).FillFrom),
		copyIf(reg.ApertureImpacts, l.ApertureImpacts, (*rec.ApertureImpacts).FillFrom),
		copyIf(reg.EventHistos, l.Histos, (*rec.Histos).FillFrom),
		copyIf(reg.Info, l.Summary, (*rec.EventInfo).FillFrom),
	}
	for _, shape := range []hits.Shape{hits.Plane, hits.Cylinder, hits.Sphere} {
		c := reg.SamplerCollection(shape)
		if !slices.Equal(c.Names(), l.SamplerNames(shape)) {
			return nil, fmt.Errorf("%w: %s samplers of %s are %v, want %v", ErrSchemaMismatch, shape, l.Path(), l.SamplerNames(shape), c.Names())
		}
		for i, name := range c.Names() {
			src, _ := l.Sampler(name)
			out = append(out, copyIf(c.Handle(i), src, (*rec.Sampler).FillFrom))
		}
	}
	if !slices.Equal(reg.Collimators.Names(), l.CollimatorNames()) {
		return nil, fmt.Errorf("%w: collimators of %s are %v, want %v", ErrSchemaMismatch, l.Path(), l.CollimatorNames(), reg.Collimators.Names())
	}
	for i, name := range reg.Collimators.Names() {
		src, _ := l.Collimator(name)
		out = append(out, copyIf(reg.Collimators.Handle(i), src, (*rec.Collimator).FillFrom))
	}
	return out, nil
}

// fold appends every event of one input and, if withRun, adds its run
// records.
func fold(ctx context.Context, w *output.Writer, reg *event.Registry, path string, withRun bool) (int64, error) {
	l, err := load.Open(path, load.Config{AllBranchesOn: true})
	if err != nil {
		return 0, err
	}
	defer l.Close()
	cp, err := copies(reg, l)
	if err != nil {
		return 0, err
	}
	n := l.NumberOfEvents()
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := l.GetEntry(i); err != nil {
			return i, err
		}
		for _, c := range cp {
			c()
		}
		if err := w.MarkEventFilled(); err != nil {
			return i, err
		}
		if err := w.WriteFileEventLevel(); err != nil {
			return i, err
		}
		if err := w.ClearStructuresEventLevel(); err != nil {
			return i, err
		}
	}
	if !withRun {
		logrus.WithFields(logrus.Fields{"file": path, "events": n}).Debug("input folded, run records left to the run's last file")
		return n, nil
	}
	if h := l.RunHistos(); h != nil && reg.RunHistos != nil {
		if err := reg.RunHistos.AccumulateAll(h); err != nil {
			return n, fmt.Errorf("accumulating run histograms of %s: %w", path, err)
		}
	}
	if ri := l.RunInfo(); ri != nil {
		reg.RunInfo.Accumulate(ri)
	}
	logrus.WithFields(logrus.Fields{"file": path, "events": n}).Debug("input folded")
	return n, nil
}
