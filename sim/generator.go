package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

const (
	// speedOfLight in m/ns
	speedOfLight = 0.299792458
	mmPerMetre   = 1000.0
	// vacuumLossEnergy is the energy of one residual gas deposit in GeV.
	vacuumLossEnergy = 1e-6
	// tunnelOffset is the transverse distance of the tunnel wall in m.
	tunnelOffset = 0.5
)

// GeneratorConfig tunes the toy transport.
type GeneratorConfig struct {
	Seed int64 `yaml:"seed"`
	// AbortProbability is the chance an event is flagged aborted.
	AbortProbability float64 `yaml:"abort_probability"`
	// StopProbability is the chance a primary stops in a jaw it hits.
	StopProbability float64 `yaml:"stop_probability"`
	// Secondaries is the number of secondaries per jaw interaction.
	Secondaries int `yaml:"secondaries"`
	// VacuumLossProbability is the chance per component of a residual gas
	// deposit.
	VacuumLossProbability float64 `yaml:"vacuum_loss_probability"`
}

// DefaultGeneratorConfig returns the settings used by generate.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:                  1,
		AbortProbability:      0.01,
		StopProbability:       0.3,
		Secondaries:           3,
		VacuumLossProbability: 0.05,
	}
}

// Validate checks the probabilities and counts.
func (c GeneratorConfig) Validate() error {
	for name, p := range map[string]float64{
		"abort_probability":       c.AbortProbability,
		"stop_probability":        c.StopProbability,
		"vacuum_loss_probability": c.VacuumLossProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %g", name, p)
		}
	}
	if c.Secondaries < 0 {
		return fmt.Errorf("secondaries must be >= 0, got %d", c.Secondaries)
	}
	return nil
}

// DefaultBeam returns a 450 GeV proton beam with 1 mm rms size.
func DefaultBeam() rec.BeamDefinition {
	return rec.BeamDefinition{
		Particle:   "proton",
		BeamEnergy: 450,
		DistrType:  "gauss",
		SigmaE:     1e-4,
		EmittanceX: 1e-6,
		EmittanceY: 1e-6,
	}
}

var particleCodes = []int32{2212, -2212, 11, -11, 13, -13, 211, -211, 321, -321, 2112, 22, 111}

// ParticleCode returns the code of a named particle in table.
func ParticleCode(table *rec.ParticleData, name string) (int32, bool) {
	for _, pdg := range particleCodes {
		if table.Known(pdg) && table.Name(pdg) == name {
			return pdg, true
		}
	}
	return 0, false
}

var secondaryCodes = []int32{22, 2112, 211, -211, 11}

// Generator produces events by tracking one primary down a Lattice. Each
// jaw it hits deposits energy, scatters it and spawns secondaries whose
// energy ends in the tunnel, the world or nowhere.
type Generator struct {
	lat   *Lattice
	beam  rec.BeamDefinition
	cfg   GeneratorConfig
	table *rec.ParticleData
	pdg   int32
	mass  float64
	rng   *PartitionedRNG

	nEvents  int64
	nAborted int64
	start    time.Time
	now      func() time.Time
}

// NewGenerator validates its inputs and returns a generator.
func NewGenerator(lat *Lattice, beam rec.BeamDefinition, table *rec.ParticleData, cfg GeneratorConfig) (*Generator, error) {
	if err := lat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lattice: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	pdg, ok := ParticleCode(table, beam.Particle)
	if !ok {
		return nil, fmt.Errorf("unknown beam particle %q", beam.Particle)
	}
	mass := table.Mass(pdg)
	if beam.BeamEnergy <= mass {
		return nil, fmt.Errorf("beam energy %g GeV is not above the %s mass", beam.BeamEnergy, beam.Particle)
	}
	return &Generator{
		lat:   lat,
		beam:  beam,
		cfg:   cfg,
		table: table,
		pdg:   pdg,
		mass:  mass,
		rng:   NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		now:   time.Now,
	}, nil
}

// particle is the transverse state of the primary. Positions in m.
type particle struct {
	x, y, xp, yp float64
	energy       float64
	t            float64
}

func (p *particle) direction() column.Vec3 {
	n := math.Sqrt(p.xp*p.xp + p.yp*p.yp + 1)
	return column.Vec3{X: p.xp / n, Y: p.yp / n, Z: 1 / n}
}

func (p *particle) local() column.Vec3 {
	return column.Vec3{X: p.x * mmPerMetre, Y: p.y * mmPerMetre}
}

func (p *particle) global(s float64) column.Vec3 {
	return column.Vec3{X: p.x * mmPerMetre, Y: p.y * mmPerMetre, Z: s * mmPerMetre}
}

func scale(v column.Vec3, f float64) column.Vec3 {
	return column.Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

// eventState collects the hits of the event being generated.
type eventState struct {
	evt        *hits.Event
	primary    hits.Track
	secondary  []hits.Track
	nextTrack  int32
	lastByPrim *hits.EnergyDeposit
}

func (g *Generator) momentum(e float64) float64 {
	return math.Sqrt(max(e*e-g.mass*g.mass, 0))
}

// Event generates event i.
func (g *Generator) Event(i int32) *hits.Event {
	beam := g.rng.ForSubsystem(SubsystemBeam)
	start := g.now()
	if g.nEvents == 0 {
		g.start = start
	}

	sx, sy := math.Sqrt(g.beam.EmittanceX), math.Sqrt(g.beam.EmittanceY)
	p := &particle{
		x:      g.beam.X0 + sx*beam.NormFloat64(),
		y:      g.beam.Y0 + sy*beam.NormFloat64(),
		xp:     g.beam.Xp0 + sx*beam.NormFloat64(),
		yp:     g.beam.Yp0 + sy*beam.NormFloat64(),
		energy: g.beam.BeamEnergy * (1 + g.beam.SigmaE*beam.NormFloat64()),
		t:      g.beam.T0,
	}
	if p.energy <= g.mass {
		p.energy = g.beam.BeamEnergy
	}

	st := &eventState{
		evt:       &hits.Event{Index: i},
		primary:   hits.Track{PDG: g.pdg, TrackID: 1, ParentIndex: -1, ParentStepIndex: -1, PrimaryStepIndex: -1},
		nextTrack: 2,
	}
	evt := st.evt
	dir := p.direction()
	evt.Primary = &hits.SamplerHit{
		Position:    p.local(),
		Direction:   dir,
		TotalEnergy: p.energy,
		Momentum:    g.momentum(p.energy),
		Time:        p.t,
		Weight:      1,
		PDG:         g.pdg,
		TrackID:     1,
		Turn:        1,
		ModelID:     -1,
	}
	evt.PrimaryGlobal = &hits.Vertex{Position: p.global(0), Momentum: scale(dir, g.momentum(p.energy)), Time: p.t}
	g.point(st, p, 0, -1, hits.ProcessTransportation, 0)

	g.transport(st, p)

	if st.lastByPrim != nil {
		last := *st.lastByPrim
		evt.PrimaryLastHit = &last
	}
	evt.Tracks = append([]hits.Track{st.primary}, st.secondary...)
	evt.Info.Start = start
	evt.Info.Stop = g.now()
	evt.Info.DurationCPU = evt.Info.Stop.Sub(start)
	evt.Info.SeedState = fmt.Sprintf("%d:%d", g.cfg.Seed, i)
	evt.Info.NTracks = int32(len(evt.Tracks))
	evt.Info.Aborted = g.rng.ForSubsystem(SubsystemAbort).Float64() < g.cfg.AbortProbability
	g.nEvents++
	if evt.Info.Aborted {
		g.nAborted++
	}
	return evt
}

// transport walks the primary through every component until it is lost or
// leaves the line.
func (g *Generator) transport(st *eventState, p *particle) {
	tr := g.rng.ForSubsystem(SubsystemTransport)
	evt := st.evt
	s := 0.0
	for idx, c := range g.lat.Components {
		if c.Type == TypeQuadrupole {
			p.xp -= c.K1 * c.Length * p.x
			p.yp += c.K1 * c.Length * p.y
		}
		p.x += p.xp * c.Length
		p.y += p.yp * c.Length
		p.t += c.Length / speedOfLight
		end := s + c.Length

		if math.Hypot(p.x, p.y) > c.aperture() {
			evt.ApertureImpacts = append(evt.ApertureImpacts, hits.ApertureImpact{
				S:           end * mmPerMetre,
				Position:    p.local(),
				Direction:   p.direction(),
				TotalEnergy: p.energy,
				Time:        p.t,
				Weight:      1,
				PDG:         g.pdg,
				TrackID:     1,
				Turn:        1,
				ModelID:     int32(idx),
				IsPrimary:   true,
			})
			g.depositPrimary(st, p, idx, end, p.energy, 0)
			g.point(st, p, end, idx, hits.ProcessElectromagnetic, p.energy)
			p.energy = 0
			return
		}
		if c.Type == TypeCollimator && (math.Abs(p.x) > c.XGap || math.Abs(p.y) > c.YGap) {
			if stopped := g.interact(st, p, idx, s, tr); stopped {
				return
			}
		}
		if tr.Float64() < g.cfg.VacuumLossProbability {
			evt.ElossVacuum = append(evt.ElossVacuum, hits.EnergyDeposit{
				Energy: vacuumLossEnergy,
				S:      (s + c.Length*tr.Float64()) * mmPerMetre,
				Weight: 1,
				Turn:   1,
				PDG:    g.pdg,
				Global: p.global(end),
			})
			p.energy -= vacuumLossEnergy
		}
		if c.Sampler != "" {
			evt.Samplers = append(evt.Samplers, hits.SamplerHit{
				Sampler:     g.lat.samplerIndex[idx],
				Shape:       g.lat.samplerShape[idx],
				Position:    p.local(),
				Direction:   p.direction(),
				S:           end * mmPerMetre,
				TotalEnergy: p.energy,
				Momentum:    g.momentum(p.energy),
				Time:        p.t,
				Weight:      1,
				PDG:         g.pdg,
				TrackID:     1,
				Turn:        1,
				ModelID:     int32(idx),
			})
		}
		g.point(st, p, end, idx, hits.ProcessTransportation, 0)
		s = end
	}
	evt.ElossWorldExit = append(evt.ElossWorldExit, hits.EnergyDeposit{
		Energy: p.energy,
		S:      s * mmPerMetre,
		Weight: 1,
		PDG:    g.pdg,
		Global: p.global(s),
		Time:   p.t,
	})
}

// interact handles a primary hitting the jaws of the collimator at idx. It
// reports whether the primary stopped.
func (g *Generator) interact(st *eventState, p *particle, idx int, s float64, tr *rand.Rand) bool {
	c := g.lat.Components[idx]
	evt := st.evt
	ci := g.lat.collimatorIndex[idx]
	dE := p.energy * (0.01 + 0.09*tr.Float64())
	evt.Collimators = append(evt.Collimators, hits.CollimatorHit{
		Collimator:      ci,
		Position:        p.local(),
		Direction:       p.direction(),
		TotalEnergy:     p.energy,
		EnergyDeposited: dE,
		Time:            p.t,
		Weight:          1,
		PDG:             g.pdg,
		TrackID:         1,
		Turn:            1,
		IsPrimary:       true,
	})
	steps := 1 + tr.Intn(3)
	for k := 0; k < steps; k++ {
		g.depositPrimary(st, p, idx, s+c.Length*(float64(k)+0.5)/float64(steps), dE/float64(steps), c.Length/float64(steps))
	}
	p.energy -= dE
	p.xp += 1e-4 * tr.NormFloat64()
	p.yp += 1e-4 * tr.NormFloat64()
	g.point(st, p, s+c.Length/2, idx, hits.ProcessHadronic, dE)
	g.secondaries(st, p, idx, s+c.Length/2)

	if tr.Float64() >= g.cfg.StopProbability {
		return false
	}
	evt.StopPrimaryIn(ci)
	g.depositPrimary(st, p, idx, s+c.Length, p.energy, 0)
	p.energy = 0
	return true
}

func (g *Generator) depositPrimary(st *eventState, p *particle, idx int, s, energy, step float64) {
	d := hits.EnergyDeposit{
		Energy:               energy,
		S:                    s * mmPerMetre,
		Weight:               1,
		Turn:                 1,
		PDG:                  g.pdg,
		TrackID:              1,
		ModelID:              int32(idx),
		Local:                p.local(),
		Global:               p.global(s),
		Time:                 p.t,
		StepLength:           step * mmPerMetre,
		PreStepKineticEnergy: p.energy - g.mass,
		PostStepProcessType:  hits.ProcessHadronic,
	}
	st.evt.Eloss = append(st.evt.Eloss, d)
	if st.evt.PrimaryFirstHit == nil {
		first := d
		st.evt.PrimaryFirstHit = &first
	}
	st.lastByPrim = &d
}

// secondaries spawns the configured number of secondaries at s. Their
// energy is taken from the primary.
func (g *Generator) secondaries(st *eventState, p *particle, idx int, s float64) {
	rng := g.rng.ForSubsystem(SubsystemSecondaries)
	evt := st.evt
	for k := 0; k < g.cfg.Secondaries; k++ {
		pdg := secondaryCodes[rng.Intn(len(secondaryCodes))]
		e := p.energy * 0.01 * rng.Float64()
		if m := g.table.Mass(pdg); e <= m {
			e = m + p.energy*0.001
		}
		id := st.nextTrack
		st.nextTrack++
		pos := p.global(s)
		st.secondary = append(st.secondary, hits.Track{
			PDG:              pdg,
			TrackID:          id,
			ParentID:         1,
			ParentIndex:      0,
			ParentStepIndex:  int32(len(st.primary.Points) - 1),
			PrimaryStepIndex: int32(len(st.primary.Points) - 1),
			Depth:            1,
			Points: []hits.TrajectoryPoint{{
				PreProcessType:  hits.ProcessHadronic,
				PostProcessType: hits.ProcessTransportation,
				PreWeight:       1,
				PostWeight:      1,
				Position:        pos,
				S:               s * mmPerMetre,
				Time:            p.t,
				ModelIndex:      int32(idx),
				KineticEnergy:   e - g.table.Mass(pdg),
			}},
		})
		d := hits.EnergyDeposit{Energy: e, S: s * mmPerMetre, Weight: 1, Turn: 1, PDG: pdg, TrackID: id, ParentID: 1, ModelID: int32(idx), Global: pos, Time: p.t}
		switch f := rng.Float64(); {
		case f < 0.4:
			d.Global.X += tunnelOffset * mmPerMetre
			evt.ElossTunnel = append(evt.ElossTunnel, d)
		case f < 0.6:
			evt.ElossWorld = append(evt.ElossWorld, d)
		case f < 0.8:
			evt.ElossWorldContents = append(evt.ElossWorldContents, d)
		default:
			evt.Info.EnergyKilled += e
		}
		p.energy -= e
	}
}

func (g *Generator) point(st *eventState, p *particle, s float64, idx int, process int32, deposit float64) {
	dir := p.direction()
	st.primary.Points = append(st.primary.Points, hits.TrajectoryPoint{
		PreProcessType:  hits.ProcessTransportation,
		PostProcessType: process,
		PreWeight:       1,
		PostWeight:      1,
		EnergyDeposit:   deposit,
		Position:        p.global(s),
		Momentum:        scale(dir, g.momentum(p.energy)),
		S:               s * mmPerMetre,
		Time:            p.t,
		LocalPosition:   p.local(),
		LocalMomentum:   scale(dir, g.momentum(p.energy)),
		ModelIndex:      int32(idx),
		KineticEnergy:   max(p.energy-g.mass, 0),
	})
}

// Run returns the run bookkeeping of the events generated so far.
func (g *Generator) Run(requested int64) hits.Run {
	stop := g.now()
	return hits.Run{
		Start:            g.start,
		Stop:             stop,
		DurationCPU:      stop.Sub(g.start),
		SeedState:        fmt.Sprintf("%d", g.cfg.Seed),
		NEventsRequested: requested,
		NEventsProcessed: g.nEvents,
		NEventsAborted:   g.nAborted,
	}
}
