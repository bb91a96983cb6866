// Package event owns the live records of a run: one instance of every
// enabled fixed record and the dynamic sampler and collimator collections.
// The output writer binds these records to branches once and reads them at
// every commit.
package event

import (
	"errors"
	"fmt"

	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

var (
	// ErrAlreadyInitialised is the panic value raised when the fixed or
	// dynamic records are re-initialised after the event loop started.
	ErrAlreadyInitialised = errors.New("registry already in use by the event loop")
	// ErrUnknownIndex is returned when a hit refers to a sampler or
	// collimator the registry does not hold.
	ErrUnknownIndex = errors.New("hit refers to an unknown sampler or collimator")
	// ErrNotInitialised is returned when filling before InitialiseFixed.
	ErrNotInitialised = errors.New("registry not initialised")
)

// Registry holds the records of the current event and the run.
type Registry struct {
	cfg     Config
	table   *rec.ParticleData
	started bool
	histos  handles

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
	EventHistos        *rec.Histos
	Info               *rec.EventInfo

	RunHistos *rec.Histos
	RunInfo   *rec.RunInfo

	Samplers    Collection[rec.Sampler]
	SamplersC   Collection[rec.Sampler]
	SamplersS   Collection[rec.Sampler]
	Collimators Collection[rec.Collimator]
}

// New returns an empty registry sharing the given particle table. The table
// should be frozen before the first event.
func New(table *rec.ParticleData) *Registry {
	return &Registry{table: table, histos: noHandles()}
}

// Config returns the store flags the fixed records were built with.
func (r *Registry) Config() Config { return r.cfg }

// ParticleData returns the shared particle table.
func (r *Registry) ParticleData() *rec.ParticleData { return r.table }

// Started reports whether an event has been filled.
func (r *Registry) Started() bool { return r.started }

// InitialiseFixed allocates the fixed records selected by cfg. It panics
// with ErrAlreadyInitialised once the event loop started.
func (r *Registry) InitialiseFixed(cfg Config) {
	if r.started {
		panic(ErrAlreadyInitialised)
	}
	r.cfg = cfg
	r.Primary, r.PrimaryGlobal = nil, nil
	r.Eloss, r.ElossVacuum, r.ElossTunnel, r.ElossWorldContents = nil, nil, nil, nil
	r.ElossWorld, r.ElossWorldExit = nil, nil
	r.PrimaryFirstHit, r.PrimaryLastHit = nil, nil
	r.Trajectory, r.ApertureImpacts = nil, nil
	r.EventHistos, r.RunHistos = nil, nil
	r.histos = noHandles()

	if cfg.Primary {
		r.Primary = rec.NewSampler(hits.Plane, cfg.Sampler)
	}
	if cfg.PrimaryGlobal {
		r.PrimaryGlobal = rec.NewCoords()
	}
	if cfg.Eloss {
		r.Eloss = rec.NewLoss(cfg.Loss)
	}
	if cfg.ElossVacuum {
		r.ElossVacuum = rec.NewLoss(cfg.Loss)
	}
	if cfg.ElossTunnel {
		r.ElossTunnel = rec.NewLoss(cfg.Loss)
	}
	if cfg.ElossWorld {
		r.ElossWorld = rec.NewLossWorld()
	}
	if cfg.ElossWorldExit {
		r.ElossWorldExit = rec.NewLossWorld()
	}
	if cfg.ElossWorldContents {
		r.ElossWorldContents = rec.NewLoss(cfg.Loss)
	}
	if cfg.PrimaryHits {
		r.PrimaryFirstHit = rec.NewLoss(cfg.Loss)
		r.PrimaryLastHit = rec.NewLoss(cfg.Loss)
	}
	if cfg.Trajectory {
		r.Trajectory = rec.NewTrajectory(cfg.TrajectoryColumns)
	}
	if cfg.ApertureImpacts {
		r.ApertureImpacts = rec.NewApertureImpacts()
	}
	if !cfg.Histograms.Disabled {
		r.EventHistos = rec.NewHistos()
		r.RunHistos = rec.NewHistos()
	}
	r.Info = rec.NewEventInfo()
	r.RunInfo = rec.NewRunInfo()
}

// InitialiseDynamic reserves every collection to its final size plus
// SpareCapacity and creates one record per name in place. It panics with
// ErrAlreadyInitialised once the event loop started.
func (r *Registry) InitialiseDynamic(d Dynamic) error {
	if r.started {
		panic(ErrAlreadyInitialised)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("initialising dynamic records: %w", err)
	}
	r.Samplers.reserve(len(d.Samplers))
	r.SamplersC.reserve(len(d.SamplersC))
	r.SamplersS.reserve(len(d.SamplersS))
	r.Collimators.reserve(len(d.Collimators))
	r.addSamplers(d.Samplers, hits.Plane)
	r.addSamplers(d.SamplersC, hits.Cylinder)
	r.addSamplers(d.SamplersS, hits.Sphere)
	for _, c := range d.Collimators {
		r.Collimators.add(c.Name, rec.NewCollimator(c, r.cfg.Collimator))
	}
	return nil
}

// SamplerCollection returns the collection holding samplers of a shape.
func (r *Registry) SamplerCollection(shape hits.Shape) *Collection[rec.Sampler] {
	switch shape {
	case hits.Cylinder:
		return &r.SamplersC
	case hits.Sphere:
		return &r.SamplersS
	}
	return &r.Samplers
}

func (r *Registry) addSamplers(names []string, shape hits.Shape) int {
	c := r.SamplerCollection(shape)
	n := 0
	for _, name := range names {
		if _, ok := c.Index(name); ok {
			continue
		}
		c.add(name, rec.NewSampler(shape, r.cfg.Sampler))
		n++
	}
	return n
}

// UpdateSamplers adds samplers discovered during the run and returns how
// many were new. Names already held by a sampler of the same shape are
// skipped; a name held by a sampler of another shape is rejected, as
// samplers of all shapes share one namespace. Nothing is added unless every
// name is accepted. It panics with ErrCapacityExceeded if the collection's
// reservation is exhausted after its records were bound.
func (r *Registry) UpdateSamplers(names []string, shape hits.Shape) (int, error) {
	own := r.SamplerCollection(shape)
	taken := make(map[string]bool)
	for _, c := range []*Collection[rec.Sampler]{&r.Samplers, &r.SamplersC, &r.SamplersS} {
		if c == own {
			continue
		}
		for _, n := range c.Names() {
			taken[n] = true
		}
	}
	batch := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := own.Index(n); ok || batch[n] {
			continue
		}
		if err := checkName(taken, n); err != nil {
			return 0, fmt.Errorf("updating samplers: %w", err)
		}
		batch[n] = true
	}
	return r.addSamplers(names, shape), nil
}

// UpdateCollimators adds collimators discovered during the run.
func (r *Registry) UpdateCollimators(infos []rec.CollimatorInfo) (int, error) {
	for _, c := range infos {
		if err := ValidateName(c.Name); err != nil {
			return 0, fmt.Errorf("updating collimators: %w", err)
		}
	}
	n := 0
	for _, c := range infos {
		if _, ok := r.Collimators.Index(c.Name); ok {
			continue
		}
		r.Collimators.add(c.Name, rec.NewCollimator(c, r.cfg.Collimator))
		n++
	}
	return n, nil
}

// CollimatorInfos returns the static info of every collimator in order.
func (r *Registry) CollimatorInfos() []rec.CollimatorInfo {
	out := make([]rec.CollimatorInfo, 0, r.Collimators.Len())
	r.Collimators.each(func(c *rec.Collimator) { out = append(out, c.Info()) })
	return out
}

// eventRecords returns every non-nil per-event record.
func (r *Registry) eventRecords() []rec.Record {
	var out []rec.Record
	add := func(x rec.Record) { out = append(out, x) }
	// each pointer is checked before conversion; a typed nil is a non-nil Record
	if r.Primary != nil {
		add(r.Primary)
	}
	if r.PrimaryGlobal != nil {
		add(r.PrimaryGlobal)
	}
	for _, l := range []*rec.Loss{r.Eloss, r.ElossVacuum, r.ElossTunnel, r.ElossWorldContents, r.PrimaryFirstHit, r.PrimaryLastHit} {
		if l != nil {
			add(l)
		}
	}
	for _, l := range []*rec.LossWorld{r.ElossWorld, r.ElossWorldExit} {
		if l != nil {
			add(l)
		}
	}
	if r.Trajectory != nil {
		add(r.Trajectory)
	}
	if r.ApertureImpacts != nil {
		add(r.ApertureImpacts)
	}
	if r.EventHistos != nil {
		add(r.EventHistos)
	}
	if r.Info != nil {
		add(r.Info)
	}
	for _, c := range []*Collection[rec.Sampler]{&r.Samplers, &r.SamplersC, &r.SamplersS} {
		c.each(func(s *rec.Sampler) { add(s) })
	}
	r.Collimators.each(func(c *rec.Collimator) { add(c) })
	return out
}

// ClearEventLevel flushes every per-event record. Run level records are
// untouched.
func (r *Registry) ClearEventLevel() {
	for _, x := range r.eventRecords() {
		x.Flush()
	}
}

// ClearRunLevel flushes the run histograms and run summary.
func (r *Registry) ClearRunLevel() {
	if r.RunHistos != nil {
		r.RunHistos.Flush()
	}
	if r.RunInfo != nil {
		r.RunInfo.Flush()
	}
}
