// Package load reads files written by the output package. A Loader binds
// only the branches a caller asks for, so unneeded column groups are never
// read from disk, and discovers samplers and collimators from the file's
// own schema.
package load

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
	"github.com/beamrec/beamrec/store"
)

// ErrNoEvents is returned for files without an Event tree.
var ErrNoEvents = errors.New("file has no event tree")

// Config selects what a Loader binds.
type Config struct {
	// AllBranchesOn binds every fixed branch and every sampler and
	// collimator in the file.
	AllBranchesOn bool `yaml:"all_branches_on"`
	// BranchesToTurnOn names extra branches to bind, by stored or logical
	// name, or by sampler or collimator name.
	BranchesToTurnOn []string `yaml:"branches_to_turn_on"`
	// SamplerNames and CollimatorNames bind these and skip discovery.
	SamplerNames    []string `yaml:"sampler_names"`
	CollimatorNames []string `yaml:"collimator_names"`
	// LiteralSphericalBinding files spherical samplers under the
	// cylindrical ones, as early analysis tools did.
	LiteralSphericalBinding bool `yaml:"literal_spherical_binding"`
}

// alwaysOn are bound whatever the configuration.
var alwaysOn = []compat.Branch{compat.Primary, compat.EventSummary, compat.PrimaryFirstHit, compat.PrimaryLastHit}

type named[T any] struct {
	name   string
	branch string
	record *T
}

// Loader gives random access to the events of one file.
type Loader struct {
	cfg     Config
	r       *store.Reader
	version compat.DataVersion
	events  *store.Tree

	first, last  *rec.Header
	model        *rec.Model
	beam         *rec.Beam
	options      *rec.Options
	particleData *rec.ParticleData
	runInfo      *rec.RunInfo
	runHistos    *rec.Histos

	Primary            *rec.Sampler
	PrimaryGlobal      *rec.Coords
	Eloss              *rec.Loss
	ElossVacuum        *rec.Loss
	ElossTunnel        *rec.Loss
	ElossWorld         *rec.LossWorld
	ElossWorldExit     *rec.LossWorld
	ElossWorldContents *rec.Loss
	PrimaryFirstHit    *rec.Loss
	PrimaryLastHit     *rec.Loss
	Trajectory         *rec.Trajectory
	ApertureImpacts    *rec.ApertureImpacts
	Histos             *rec.Histos
	Summary            *rec.EventInfo

	samplers    [3][]named[rec.Sampler]
	collimators []named[rec.Collimator]
	bound       map[string]rec.Record
}

// Open reads the header and one-shot trees of path and binds the event
// branches selected by cfg.
func Open(path string, cfg Config) (*Loader, error) {
	r, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	l := &Loader{r: r}
	if err := l.init(cfg); err != nil {
		r.Close()
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return l, nil
}

func (l *Loader) init(cfg Config) error {
	if err := l.readHeader(); err != nil {
		return err
	}
	events, ok := l.r.Tree(compat.TreeEvent)
	if !ok {
		return ErrNoEvents
	}
	l.events = events
	if err := l.readOneShots(); err != nil {
		return err
	}
	return l.SetBranchAddress(cfg)
}

func (l *Loader) readHeader() error {
	t, ok := l.r.Tree(compat.TreeHeader)
	if !ok || t.Entries() == 0 {
		return fmt.Errorf("reading header: %w", store.ErrNoTree)
	}
	l.first = rec.NewHeader()
	if err := t.SetBranchAddress(compat.Name(compat.V1, compat.Header), l.first); err != nil {
		return err
	}
	if err := t.GetEntry(0); err != nil {
		return err
	}
	v, err := compat.Parse(l.first.DataVersion)
	if err != nil {
		return err
	}
	l.version = v
	l.last = l.first
	if n := t.Entries(); n > 1 {
		l.last = rec.NewHeader()
		if err := t.SetBranchAddress(compat.Name(v, compat.Header), l.last); err != nil {
			return err
		}
		if err := t.GetEntry(n - 1); err != nil {
			return err
		}
	}
	return nil
}

// readLast decodes the last entry of a one-shot branch into the record
// newRecord builds from the stored columns. It returns nil when the branch is
// absent.
func readLast[T rec.Record](l *Loader, b compat.Branch, newRecord func(store.BranchInfo) T) (T, error) {
	var zero T
	tree, name, ok := compat.Lookup(l.version, b)
	if !ok {
		return zero, nil
	}
	t, ok := l.r.Tree(tree)
	if !ok || t.Entries() == 0 {
		return zero, nil
	}
	info, ok := t.Branch(name)
	if !ok {
		logrus.WithFields(logrus.Fields{"file": l.r.Path(), "tree": tree, "branch": name}).Debug("branch missing")
		return zero, nil
	}
	r := newRecord(info)
	if err := t.SetBranchAddress(name, r); err != nil {
		return zero, err
	}
	if err := t.GetEntry(t.Entries() - 1); err != nil {
		return zero, err
	}
	return r, nil
}

func (l *Loader) readOneShots() error {
	var err error
	if l.model, err = readLast(l, compat.Model, func(info store.BranchInfo) *rec.Model {
		return rec.NewModel(rec.ModelOptionsFromColumns(info.Columns))
	}); err != nil {
		return fmt.Errorf("reading model: %w", err)
	}
	if l.beam, err = readLast(l, compat.Beam, func(store.BranchInfo) *rec.Beam {
		return rec.NewBeam()
	}); err != nil {
		return fmt.Errorf("reading beam: %w", err)
	}
	if l.options, err = readLast(l, compat.Options, func(store.BranchInfo) *rec.Options {
		return rec.NewOptions()
	}); err != nil {
		return fmt.Errorf("reading options: %w", err)
	}
	if l.particleData, err = readLast(l, compat.ParticleData, func(store.BranchInfo) *rec.ParticleData {
		return rec.NewParticleData()
	}); err != nil {
		return fmt.Errorf("reading particle data: %w", err)
	}
	if l.runInfo, err = readLast(l, compat.RunSummary, func(store.BranchInfo) *rec.RunInfo {
		return rec.NewRunInfo()
	}); err != nil {
		return fmt.Errorf("reading run summary: %w", err)
	}
	if l.runHistos, err = readLast(l, compat.RunHistos, func(store.BranchInfo) *rec.Histos {
		return rec.NewHistos()
	}); err != nil {
		return fmt.Errorf("reading run histograms: %w", err)
	}
	return nil
}

// fixedNames maps the stored name of every fixed Event branch present in
// the file to its logical branch.
func (l *Loader) fixedNames() map[string]compat.Branch {
	out := make(map[string]compat.Branch)
	for _, b := range compat.EventBranches {
		name := compat.Name(l.version, b)
		if _, ok := l.events.Branch(name); name != "" && ok {
			out[name] = b
		}
	}
	return out
}

func isDynamicKind(kind string) bool {
	_, sampler := rec.ShapeOfKind(kind)
	return sampler || kind == rec.KindCollimator
}

// SetBranchAddress disables every Event branch, then binds the always-on
// set, the requested names and, with AllBranchesOn, everything else. It may
// be called again to change the selection; records bound before are
// released.
func (l *Loader) SetBranchAddress(cfg Config) error {
	l.cfg = cfg
	l.reset()
	l.events.SetBranchStatus("*", false)

	fixed := l.fixedNames()
	want := make(map[string]bool)
	for _, b := range alwaysOn {
		if name := compat.Name(l.version, b); name != "" {
			if _, ok := fixed[name]; ok {
				want[name] = true
			}
		}
	}

	dynamic := make(map[string]store.BranchInfo)
	for _, info := range l.events.Branches() {
		if _, ok := fixed[info.Name]; !ok && isDynamicKind(info.Kind) {
			dynamic[info.Name] = info
		}
	}
	hasDynamic := func(name string) bool { _, ok := dynamic[name]; return ok }

	if cfg.AllBranchesOn {
		for name := range fixed {
			want[name] = true
		}
		if len(cfg.SamplerNames) == 0 && len(cfg.CollimatorNames) == 0 {
			for name := range dynamic {
				want[name] = true
			}
		}
	}
	for _, n := range cfg.SamplerNames {
		l.want(want, n, samplerCandidates(n), hasDynamic)
	}
	for _, n := range cfg.CollimatorNames {
		l.want(want, n, collimatorCandidates(n), hasDynamic)
	}
	for _, n := range cfg.BranchesToTurnOn {
		if _, ok := fixed[n]; ok {
			want[n] = true
			continue
		}
		if name := compat.Name(l.version, compat.Branch(n)); name != "" {
			if _, ok := fixed[name]; ok {
				want[name] = true
				continue
			}
		}
		l.want(want, n, collimatorCandidates(n), hasDynamic)
	}

	for _, info := range l.events.Branches() {
		if !want[info.Name] {
			continue
		}
		var r rec.Record
		if b, ok := fixed[info.Name]; ok {
			r = l.newFixed(b, info)
		} else {
			r = l.newDynamic(info)
		}
		if err := l.events.SetBranchAddress(info.Name, r); err != nil {
			return err
		}
		l.bound[info.Name] = r
	}
	logrus.WithFields(logrus.Fields{
		"file": l.r.Path(), "data_version": l.version, "bound": len(l.bound), "branches": len(l.events.BranchNames()),
	}).Debug("branches bound")
	return nil
}

func (l *Loader) want(want map[string]bool, name string, candidates []string, has func(string) bool) {
	branch, ok := resolve(candidates, has)
	if !ok {
		logrus.WithFields(logrus.Fields{"file": l.r.Path(), "branch": name}).Warn("no such branch in file, not binding it")
		return
	}
	want[branch] = true
}

func (l *Loader) reset() {
	l.Primary, l.PrimaryGlobal = nil, nil
	l.Eloss, l.ElossVacuum, l.ElossTunnel, l.ElossWorldContents = nil, nil, nil, nil
	l.ElossWorld, l.ElossWorldExit = nil, nil
	l.PrimaryFirstHit, l.PrimaryLastHit = nil, nil
	l.Trajectory, l.ApertureImpacts, l.Histos, l.Summary = nil, nil, nil, nil
	l.samplers = [3][]named[rec.Sampler]{}
	l.collimators = nil
	l.bound = make(map[string]rec.Record)
}

func (l *Loader) newFixed(b compat.Branch, info store.BranchInfo) rec.Record {
	loss := func(dst **rec.Loss) rec.Record {
		*dst = rec.NewLoss(rec.LossOptionsFromColumns(info.Columns))
		return *dst
	}
	world := func(dst **rec.LossWorld) rec.Record {
		*dst = rec.NewLossWorld()
		return *dst
	}
	switch b {
	case compat.Primary:
		l.Primary = rec.NewSampler(hits.Plane, rec.SamplerOptionsFromColumns(info.Columns))
		return l.Primary
	case compat.PrimaryGlobal:
		l.PrimaryGlobal = rec.NewCoords()
		return l.PrimaryGlobal
	case compat.Eloss:
		return loss(&l.Eloss)
	case compat.ElossVacuum:
		return loss(&l.ElossVacuum)
	case compat.ElossTunnel:
		return loss(&l.ElossTunnel)
	case compat.ElossWorldContents:
		return loss(&l.ElossWorldContents)
	case compat.PrimaryFirstHit:
		return loss(&l.PrimaryFirstHit)
	case compat.PrimaryLastHit:
		return loss(&l.PrimaryLastHit)
	case compat.ElossWorld:
		return world(&l.ElossWorld)
	case compat.ElossWorldExit:
		return world(&l.ElossWorldExit)
	case compat.Trajectory:
		l.Trajectory = rec.NewTrajectory(rec.TrajectoryOptionsFromColumns(info.Columns))
		return l.Trajectory
	case compat.ApertureImpacts:
		l.ApertureImpacts = rec.NewApertureImpacts()
		return l.ApertureImpacts
	case compat.EventHistos:
		l.Histos = rec.NewHistos()
		return l.Histos
	}
	l.Summary = rec.NewEventInfo()
	return l.Summary
}

func (l *Loader) newDynamic(info store.BranchInfo) rec.Record {
	if shape, ok := rec.ShapeOfKind(info.Kind); ok {
		s := rec.NewSampler(shape, rec.SamplerOptionsFromColumns(info.Columns))
		slot := shape
		if shape == hits.Sphere && l.cfg.LiteralSphericalBinding {
			slot = hits.Cylinder
		}
		l.samplers[slot] = append(l.samplers[slot], named[rec.Sampler]{
			name:   strings.TrimSuffix(info.Name, samplerSuffix),
			branch: info.Name,
			record: s,
		})
		return s
	}
	ci := l.collimatorInfo(info.Name)
	c := rec.NewCollimator(ci, rec.CollimatorOptionsFromColumns(info.Columns))
	l.collimators = append(l.collimators, named[rec.Collimator]{name: ci.Name, branch: info.Name, record: c})
	return c
}

// collimatorInfo returns the model's info for a collimator branch, or an
// info holding only the name when the model has none.
func (l *Loader) collimatorInfo(branch string) rec.CollimatorInfo {
	if l.model != nil {
		for _, ci := range l.model.CollimatorInfos() {
			if ci.BranchName() == branch {
				return ci
			}
		}
	}
	return rec.CollimatorInfo{Name: strings.TrimPrefix(branch, rec.BranchPrefix)}
}

// GetEntry loads event i into every bound record. Entries may be read in
// any order.
func (l *Loader) GetEntry(i int64) error { return l.events.GetEntry(i) }

// NumberOfEvents returns the number of Event rows.
func (l *Loader) NumberOfEvents() int64 { return l.events.Entries() }

// Version returns the file's data version.
func (l *Loader) Version() compat.DataVersion { return l.version }

// Header returns the first Header row: versions, file type and file ID.
func (l *Loader) Header() *rec.Header { return l.first }

// FinalHeader returns the last Header row, which carries the final counts.
func (l *Loader) FinalHeader() *rec.Header { return l.last }

// Model returns the beam line, nil when the file has none.
func (l *Loader) Model() *rec.Model { return l.model }

func (l *Loader) Beam() *rec.Beam       { return l.beam }
func (l *Loader) Options() *rec.Options { return l.options }

// ParticleData returns the particle table, nil before data version 5.
func (l *Loader) ParticleData() *rec.ParticleData { return l.particleData }

// RunInfo returns the last Run summary row.
func (l *Loader) RunInfo() *rec.RunInfo { return l.runInfo }

// RunHistos returns the last Run histogram row.
func (l *Loader) RunHistos() *rec.Histos { return l.runHistos }

// Record returns the record bound to an Event branch by stored name.
func (l *Loader) Record(branch string) (rec.Record, bool) {
	r, ok := l.bound[branch]
	return r, ok
}

// Resolve returns the stored name of the bound branch that name refers to:
// a stored name, a logical branch name or a sampler or collimator name.
func (l *Loader) Resolve(name string) (string, bool) {
	isBound := func(n string) bool { _, ok := l.bound[n]; return ok }
	if isBound(name) {
		return name, true
	}
	if b := compat.Name(l.version, compat.Branch(name)); b != "" && isBound(b) {
		return b, true
	}
	return resolve(collimatorCandidates(name), isBound)
}

// BoundBranches returns the stored names of the bound Event branches in
// file order.
func (l *Loader) BoundBranches() []string {
	var out []string
	for _, name := range l.events.BranchNames() {
		if _, ok := l.bound[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// BranchInfo returns the stored descriptor of an Event branch.
func (l *Loader) BranchInfo(branch string) (store.BranchInfo, bool) { return l.events.Branch(branch) }

// SamplerNames returns the names of the bound samplers filed under shape.
func (l *Loader) SamplerNames(shape hits.Shape) []string {
	out := make([]string, len(l.samplers[shape]))
	for i, s := range l.samplers[shape] {
		out[i] = s.name
	}
	return out
}

// CollimatorNames returns the names of the bound collimators.
func (l *Loader) CollimatorNames() []string {
	out := make([]string, len(l.collimators))
	for i, c := range l.collimators {
		out[i] = c.name
	}
	return out
}

// Sampler returns a bound sampler of any shape. The raw name is tried first,
// then the name with the sampler suffix.
func (l *Loader) Sampler(name string) (*rec.Sampler, bool) {
	for _, c := range samplerCandidates(name) {
		for _, set := range l.samplers {
			if i := slices.IndexFunc(set, func(s named[rec.Sampler]) bool { return s.branch == c }); i >= 0 {
				return set[i].record, true
			}
		}
	}
	return nil, false
}

// Collimator returns a bound collimator. Names are tried raw, with the
// sampler suffix, with the branch prefix and finally with the prefix and a
// "_0" copy number.
func (l *Loader) Collimator(name string) (*rec.Collimator, bool) {
	for _, c := range collimatorCandidates(name) {
		if i := slices.IndexFunc(l.collimators, func(x named[rec.Collimator]) bool { return x.branch == c }); i >= 0 {
			return l.collimators[i].record, true
		}
	}
	return nil, false
}

// BytesRead returns the basket bytes read from disk so far.
func (l *Loader) BytesRead() int64 { return l.r.BytesRead() }

func (l *Loader) Path() string { return l.r.Path() }

func (l *Loader) Close() error { return l.r.Close() }
