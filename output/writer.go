// Package output turns the live records of an event.Registry into rows of a
// file. A Writer walks a fixed sequence per file: the Header and the other
// one-shot trees, one Event row per simulated event and a closing Run row.
package output

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/metrics"
	"github.com/beamrec/beamrec/rec"
	"github.com/beamrec/beamrec/store"
)

var (
	// ErrInvalidState is returned when a call does not fit the writer's state.
	ErrInvalidState = errors.New("invalid writer state")
	// ErrProvenanceRollover is returned when merged output is configured to
	// roll over: its original event count cannot be split across files.
	ErrProvenanceRollover = errors.New("merged output cannot roll over")
)

// State is the position of a Writer in the per-file protocol.
type State int

const (
	StateClosed State = iota
	StateFileOpen
	StateEventLoop
	StateRunFilled
)

var stateNames = map[State]string{
	StateClosed:    "closed",
	StateFileOpen:  "file open",
	StateEventLoop: "event loop",
	StateRunFilled: "run filled",
}

func (s State) String() string { return stateNames[s] }

type oneShot uint8

const (
	shotHeader oneShot = 1 << iota
	shotParticleData
	shotBeam
	shotOptions
	shotModel
)

// Writer writes the records of one registry, file after file.
type Writer struct {
	cfg     Config
	backend Backend
	reg     *event.Registry
	version compat.DataVersion

	state     State
	written   oneShot
	sink      Sink
	fileIndex int
	runID     string

	// writer owned copies of the one-shot records, rewritten on rollover
	header       *rec.Header
	particleData *rec.ParticleData
	beam         *rec.Beam
	options      *rec.Options
	model        *rec.Model

	eventPending bool
	eventWritten bool

	nEventsFile   int64
	nSkippedFile  int64
	nEventsRun    int64
	nAbortedRun   int64
	nRequested    int64
	runStart      time.Time
	fileType      string
	combinedFiles []string
	nOriginal     int64

	paths []string
	now   func() time.Time
}

// New returns a closed writer for reg. The registry must be initialised
// before the first NewFile.
func New(cfg Config, reg *event.Registry, backend Backend) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output config: %w", err)
	}
	if backend == nil {
		backend = StoreBackend{Options: store.Options{Codec: cfg.Codec, BasketSize: cfg.BasketSize}}
	}
	v := cfg.Version()
	return &Writer{
		cfg:          cfg,
		backend:      backend,
		reg:          reg,
		version:      v,
		header:       rec.NewHeader(),
		particleData: rec.NewParticleData(),
		beam:         rec.NewBeam(),
		options:      rec.NewOptions(),
		model: rec.NewModel(rec.ModelOptions{
			StoreCollimatorInfo: v.Has(compat.FeatureModelInfo),
			StoreCavityInfo:     v.Has(compat.FeatureModelInfo),
		}),
		fileType: rec.FileTypeSimulation,
		runID:    uuid.NewString(),
		now:      time.Now,
	}, nil
}

// State returns the current protocol state.
func (w *Writer) State() State { return w.state }

// DataVersion returns the layout files are written with.
func (w *Writer) DataVersion() compat.DataVersion { return w.version }

// RunID returns the ID every file of this writer's run carries.
func (w *Writer) RunID() string { return w.runID }

// Paths returns every file opened so far, in order.
func (w *Writer) Paths() []string { return append([]string(nil), w.paths...) }

// Path returns the path of the open file, or "" when closed.
func (w *Writer) Path() string {
	if w.sink == nil {
		return ""
	}
	return w.sink.Path()
}

// SetProvenance marks the file as the product of merging other files.
// original is the event count of the inputs before any skimming. Merged
// output is written to a single file.
func (w *Writer) SetProvenance(fileType string, combined []string, original int64) error {
	if w.state != StateClosed {
		return w.invalid("setting provenance")
	}
	if w.rollsOver() {
		return fmt.Errorf("setting provenance: %w", ErrProvenanceRollover)
	}
	w.fileType = fileType
	w.combinedFiles = append([]string(nil), combined...)
	w.nOriginal = original
	return nil
}

// SetEventsRequested records how many events the run was asked for. FillRun
// overrides it with the run's own count.
func (w *Writer) SetEventsRequested(n int64) { w.nRequested = n }

func (w *Writer) invalid(op string) error {
	return fmt.Errorf("%s in state %s: %w", op, w.state, ErrInvalidState)
}

func (w *Writer) rollsOver() bool { return w.cfg.MaxEventsPerFile > 0 }

// nextPath returns the name of the next file: FileName itself, or
// base_N.ext per file when rolling over.
func (w *Writer) nextPath() string {
	p := w.cfg.FileName
	if w.rollsOver() {
		ext := filepath.Ext(p)
		p = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(p, ext), w.fileIndex, ext)
	}
	if !w.cfg.Overwrite {
		p = store.UniquePath(p)
	}
	return p
}

// NewFile opens the next file and declares every branch of the registry.
func (w *Writer) NewFile() error {
	if w.state != StateClosed {
		return w.invalid("opening file")
	}
	if w.reg.Info == nil {
		return fmt.Errorf("opening file: %w", event.ErrNotInitialised)
	}
	path := w.nextPath()
	sink, err := w.backend.Create(path)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	if err := w.declare(sink); err != nil {
		sink.Close()
		return fmt.Errorf("declaring branches of %s: %w", path, err)
	}
	if w.runStart.IsZero() {
		w.runStart = w.now()
	}
	w.sink = sink
	w.state = StateFileOpen
	w.written = 0
	w.nEventsFile, w.nSkippedFile = 0, 0
	w.eventPending, w.eventWritten = false, false
	w.paths = append(w.paths, sink.Path())
	w.fileIndex++
	metrics.FilesOpened.Inc()
	logrus.WithFields(logrus.Fields{"file": sink.Path(), "data_version": w.version}).Info("output file opened")
	return nil
}

type binding struct {
	tree, name string
	r          rec.Record
}

func (w *Writer) declare(sink Sink) error {
	var bs []binding
	add := func(b compat.Branch, r rec.Record) {
		tree, name, ok := compat.Lookup(w.version, b)
		if !ok {
			logrus.WithFields(logrus.Fields{"branch": b, "data_version": w.version}).Debug("branch absent in data version")
			return
		}
		bs = append(bs, binding{tree, name, r})
	}
	add(compat.Header, w.header)
	add(compat.ParticleData, w.particleData)
	add(compat.Beam, w.beam)
	add(compat.Options, w.options)
	add(compat.Model, w.model)
	add(compat.RunSummary, w.reg.RunInfo)
	if w.reg.RunHistos != nil {
		add(compat.RunHistos, w.reg.RunHistos)
	}
	for _, b := range compat.EventBranches {
		if r := w.eventRecord(b); r != nil {
			add(b, r)
		}
	}
	for _, shape := range []hits.Shape{hits.Plane, hits.Cylinder, hits.Sphere} {
		c := w.reg.SamplerCollection(shape)
		if c.Len() == 0 {
			continue
		}
		if shape != hits.Plane && !w.version.Has(compat.FeatureShapedSamplers) {
			logrus.WithFields(logrus.Fields{"shape": shape, "samplers": c.Len(), "data_version": w.version}).
				Warn("data version has no shaped samplers, not writing them")
			continue
		}
		for i := 0; i < c.Len(); i++ {
			bs = append(bs, binding{compat.TreeEvent, c.Name(i) + ".", c.Handle(i)})
		}
	}
	for i := 0; i < w.reg.Collimators.Len(); i++ {
		c := w.reg.Collimators.Handle(i)
		bs = append(bs, binding{compat.TreeEvent, c.Info().BranchName(), c})
	}
	for _, b := range bs {
		if err := sink.Branch(b.tree, b.name, b.r); err != nil {
			return err
		}
	}
	return nil
}

// eventRecord maps a fixed Event branch to its registry record, nil when the
// record is not enabled.
func (w *Writer) eventRecord(b compat.Branch) rec.Record {
	r := w.reg
	loss := func(l *rec.Loss) rec.Record {
		if l == nil {
			return nil
		}
		return l
	}
	world := func(l *rec.LossWorld) rec.Record {
		if l == nil {
			return nil
		}
		return l
	}
	switch b {
	case compat.Primary:
		if r.Primary != nil {
			return r.Primary
		}
	case compat.PrimaryGlobal:
		if r.PrimaryGlobal != nil {
			return r.PrimaryGlobal
		}
	case compat.Eloss:
		return loss(r.Eloss)
	case compat.ElossVacuum:
		return loss(r.ElossVacuum)
	case compat.ElossTunnel:
		return loss(r.ElossTunnel)
	case compat.ElossWorldContents:
		return loss(r.ElossWorldContents)
	case compat.PrimaryFirstHit:
		return loss(r.PrimaryFirstHit)
	case compat.PrimaryLastHit:
		return loss(r.PrimaryLastHit)
	case compat.ElossWorld:
		return world(r.ElossWorld)
	case compat.ElossWorldExit:
		return world(r.ElossWorldExit)
	case compat.Trajectory:
		if r.Trajectory != nil {
			return r.Trajectory
		}
	case compat.ApertureImpacts:
		if r.ApertureImpacts != nil {
			return r.ApertureImpacts
		}
	case compat.EventHistos:
		if r.EventHistos != nil {
			return r.EventHistos
		}
	case compat.EventSummary:
		if r.Info != nil {
			return r.Info
		}
	}
	return nil
}

func (w *Writer) fillTree(b compat.Branch) error {
	tree, _, ok := compat.Lookup(w.version, b)
	if !ok {
		return nil
	}
	if err := w.sink.Fill(tree); err != nil {
		return fmt.Errorf("writing %s: %w", tree, err)
	}
	return nil
}

func (w *Writer) beginOneShot(s oneShot, op string) error {
	if w.state != StateFileOpen {
		return w.invalid(op)
	}
	if s != shotHeader && w.written&shotHeader == 0 {
		return fmt.Errorf("%s before the header: %w", op, ErrInvalidState)
	}
	if w.written&s != 0 {
		return fmt.Errorf("%s twice: %w", op, ErrInvalidState)
	}
	return nil
}

// WriteHeader writes the first Header row: versions, file type and a fresh
// file ID. The closing row with the final counts is written by
// WriteFileRunLevel.
func (w *Writer) WriteHeader() error {
	if err := w.beginOneShot(shotHeader, "writing header"); err != nil {
		return err
	}
	w.header.Flush()
	w.header.Fill(int32(w.version), w.fileType, w.now())
	w.header.SetRun(w.runID, int32(w.fileIndex-1))
	w.header.CombinedFiles = append(w.header.CombinedFiles[:0], w.combinedFiles...)
	if err := w.fillTree(compat.Header); err != nil {
		return err
	}
	w.written |= shotHeader
	return nil
}

// WriteParticleData writes the particle table. Versions without the tree
// skip it silently.
func (w *Writer) WriteParticleData(table *rec.ParticleData) error {
	if err := w.beginOneShot(shotParticleData, "writing particle data"); err != nil {
		return err
	}
	w.particleData.FillFrom(table)
	if err := w.fillTree(compat.ParticleData); err != nil {
		return err
	}
	w.written |= shotParticleData
	return nil
}

// WriteBeam writes the beam definition.
func (w *Writer) WriteBeam(def rec.BeamDefinition) error {
	if err := w.beginOneShot(shotBeam, "writing beam"); err != nil {
		return err
	}
	w.beam.Fill(def)
	if err := w.fillTree(compat.Beam); err != nil {
		return err
	}
	w.written |= shotBeam
	return nil
}

// WriteOptions writes the resolved run options.
func (w *Writer) WriteOptions(o *rec.Options) error {
	if err := w.beginOneShot(shotOptions, "writing options"); err != nil {
		return err
	}
	w.options.FillFrom(o)
	if err := w.fillTree(compat.Options); err != nil {
		return err
	}
	w.written |= shotOptions
	return nil
}

// WriteModel writes the beam line. Sampler names come from the registry,
// and so do the collimators when the model lists none.
func (w *Writer) WriteModel(m *rec.Model) error {
	if err := w.beginOneShot(shotModel, "writing model"); err != nil {
		return err
	}
	w.model.FillFrom(m)
	for _, shape := range []hits.Shape{hits.Plane, hits.Cylinder, hits.Sphere} {
		w.model.SetSamplerNames(shape, w.reg.SamplerCollection(shape).Names())
	}
	if len(w.model.CollimatorBranchNames) == 0 {
		for _, c := range w.reg.CollimatorInfos() {
			w.model.AddCollimator(c)
		}
	}
	if err := w.fillTree(compat.Model); err != nil {
		return err
	}
	w.written |= shotModel
	return nil
}

// rewriteOneShots repeats the one-shot rows of the previous file.
func (w *Writer) rewriteOneShots(prev oneShot) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, s := range []struct {
		shot   oneShot
		branch compat.Branch
	}{
		{shotParticleData, compat.ParticleData},
		{shotBeam, compat.Beam},
		{shotOptions, compat.Options},
		{shotModel, compat.Model},
	} {
		if prev&s.shot == 0 {
			continue
		}
		if err := w.fillTree(s.branch); err != nil {
			return err
		}
		w.written |= s.shot
	}
	return nil
}

func (w *Writer) beginEvent(op string) error {
	if w.state != StateFileOpen && w.state != StateEventLoop {
		return w.invalid(op)
	}
	if w.written&shotHeader == 0 {
		return fmt.Errorf("%s before the header: %w", op, ErrInvalidState)
	}
	if w.eventPending || w.eventWritten {
		return fmt.Errorf("%s with the previous event not cleared: %w", op, ErrInvalidState)
	}
	if w.rollsOver() && w.nEventsFile+w.nSkippedFile >= w.cfg.MaxEventsPerFile {
		if err := w.rollover(); err != nil {
			return err
		}
	}
	return nil
}

// FillEvent fills the registry from the hits of one event.
func (w *Writer) FillEvent(evt *hits.Event) error {
	if err := w.beginEvent("filling event"); err != nil {
		return err
	}
	if err := w.reg.FillEvent(w.foldLosses(evt)); err != nil {
		return err
	}
	w.state = StateEventLoop
	w.eventPending = true
	return nil
}

// splitLosses are the loss collections data versions before V2 keep inside
// the single Eloss branch.
var splitLosses = []compat.Branch{compat.ElossVacuum, compat.ElossTunnel, compat.ElossWorld}

// foldLosses returns evt with every stored loss collection the data version
// has no branch for appended to Eloss, so the file's Eloss rows and energy
// totals account for them. evt itself is not modified.
func (w *Writer) foldLosses(evt *hits.Event) *hits.Event {
	if w.reg.Eloss == nil {
		return evt
	}
	var folded *hits.Event
	for _, b := range splitLosses {
		if compat.Exists(w.version, b) || w.eventRecord(b) == nil {
			continue
		}
		if folded == nil {
			cp := *evt
			cp.Eloss = slices.Clip(cp.Eloss)
			folded = &cp
		}
		src := lossHits(folded, b)
		folded.Eloss = append(folded.Eloss, *src...)
		*src = nil
	}
	if folded == nil {
		return evt
	}
	return folded
}

func lossHits(evt *hits.Event, b compat.Branch) *[]hits.EnergyDeposit {
	switch b {
	case compat.ElossVacuum:
		return &evt.ElossVacuum
	case compat.ElossTunnel:
		return &evt.ElossTunnel
	}
	return &evt.ElossWorld
}

// MarkEventFilled declares the registry's event records filled by the
// caller, e.g. copied from another file.
func (w *Writer) MarkEventFilled() error {
	if err := w.beginEvent("marking event"); err != nil {
		return err
	}
	w.state = StateEventLoop
	w.eventPending = true
	return nil
}

// WriteFileEventLevel appends one row to every Event branch. Aborted events
// are written like any other.
func (w *Writer) WriteFileEventLevel() error {
	if w.state != StateEventLoop || !w.eventPending {
		return w.invalid("writing event")
	}
	if err := w.sink.Fill(compat.TreeEvent); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	w.eventPending, w.eventWritten = false, true
	w.nEventsFile++
	w.nEventsRun++
	status := "ok"
	if w.reg.Info.Aborted {
		status = "aborted"
		w.nAbortedRun++
	}
	metrics.EventsWritten.WithLabelValues(status).Inc()
	return nil
}

// SkipEvent counts an event that was processed but not stored.
func (w *Writer) SkipEvent() error {
	if err := w.beginEvent("skipping event"); err != nil {
		return err
	}
	w.state = StateEventLoop
	w.nSkippedFile++
	return nil
}

// ClearStructuresEventLevel resets the per-event records for the next event.
func (w *Writer) ClearStructuresEventLevel() error {
	if w.state != StateEventLoop || w.eventPending {
		return w.invalid("clearing event")
	}
	w.reg.ClearEventLevel()
	w.eventWritten = false
	return nil
}

// rollover closes the full file with an interim run row and opens the next.
// The run records are not reset, so each file's Run row holds the run so far.
func (w *Writer) rollover() error {
	prev := w.written
	w.reg.RunInfo.Fill(hits.Run{
		Start:            w.runStart,
		Stop:             w.now(),
		NEventsRequested: w.nRequested,
		NEventsProcessed: w.nEventsRun,
		NEventsAborted:   w.nAbortedRun,
	})
	if err := w.closeFile(); err != nil {
		return fmt.Errorf("rolling over: %w", err)
	}
	if err := w.NewFile(); err != nil {
		return fmt.Errorf("rolling over: %w", err)
	}
	if err := w.rewriteOneShots(prev); err != nil {
		return fmt.Errorf("rolling over: %w", err)
	}
	return nil
}

// FillRun fills the run summary.
func (w *Writer) FillRun(run hits.Run) error {
	if w.state != StateFileOpen && w.state != StateEventLoop {
		return w.invalid("filling run")
	}
	if w.eventPending || w.eventWritten {
		return fmt.Errorf("filling run with an event not cleared: %w", ErrInvalidState)
	}
	w.reg.RunInfo.Fill(run)
	if run.NEventsRequested > 0 {
		w.nRequested = run.NEventsRequested
	}
	w.state = StateRunFilled
	return nil
}

// MarkRunFilled declares the run records filled by the caller.
func (w *Writer) MarkRunFilled() error {
	if w.state != StateFileOpen && w.state != StateEventLoop {
		return w.invalid("marking run")
	}
	w.state = StateRunFilled
	return nil
}

// WriteFileRunLevel appends the Run row and the closing Header row, then
// closes the file durably. The file is closed even when an earlier step
// failed; the first error is returned.
func (w *Writer) WriteFileRunLevel() error {
	if w.state != StateRunFilled {
		return w.invalid("writing run")
	}
	return w.closeFile()
}

func (w *Writer) closeFile() error {
	if w.written&shotHeader == 0 {
		return fmt.Errorf("closing file before the header: %w", ErrInvalidState)
	}
	err := w.fillTree(compat.RunSummary)
	if err == nil {
		metrics.RunRowsWritten.Inc()
		original := w.nOriginal
		if original == 0 {
			original = w.nEventsFile + w.nSkippedFile
		}
		w.header.SetCounts(original, w.nRequested, w.nEventsFile, w.nSkippedFile)
		err = w.fillTree(compat.Header)
	}
	path := w.sink.Path()
	if cerr := w.sink.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", path, cerr)
	}
	w.sink = nil
	w.state = StateClosed
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"file": path, "events": w.nEventsFile, "skipped": w.nSkippedFile}).Info("output file closed")
	return nil
}

// Close abandons the open file, if any. It is meant for error paths; a
// normal run ends with WriteFileRunLevel.
func (w *Writer) Close() error {
	if w.sink == nil {
		return nil
	}
	err := w.sink.Close()
	w.sink = nil
	w.state = StateClosed
	return err
}
