package rec

import (
	"time"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// EnergyTotals are the itemised energy sums of one event in GeV.
type EnergyTotals struct {
	Deposited              float64
	DepositedVacuum        float64
	DepositedWorld         float64
	DepositedWorldContents float64
	DepositedTunnel        float64
	WorldExit              float64
	Killed                 float64
}

// Sum adds the seven items.
func (e EnergyTotals) Sum() float64 {
	return e.Deposited + e.DepositedVacuum + e.DepositedWorld + e.DepositedWorldContents +
		e.DepositedTunnel + e.WorldExit + e.Killed
}

// EventInfo is the per-event summary, stored under Summary (Info in early
// files).
type EventInfo struct {
	fieldSet

	StartTime                    int64
	StopTime                     int64
	DurationWall                 float64
	DurationCPU                  float64
	SeedStateAtStart             string
	Index                        int32
	Aborted                      bool
	PrimaryHitMachine            bool
	PrimaryAbsorbedInCollimator  bool
	MemoryUsageMb                float64
	EnergyDeposited              float64
	EnergyDepositedVacuum        float64
	EnergyDepositedWorld         float64
	EnergyDepositedWorldContents float64
	EnergyDepositedTunnel        float64
	EnergyWorldExit              float64
	EnergyKilled                 float64
	EnergyImpactingAperture      float64
	EnergyTotal                  float64
	NCollimatorsInteracted       int32
	NTracks                      int32
}

func NewEventInfo() *EventInfo {
	e := &EventInfo{}
	e.bind(
		column.Int64("startTime", &e.StartTime),
		column.Int64("stopTime", &e.StopTime),
		column.Float64("durationWall", &e.DurationWall),
		column.Float64("durationCPU", &e.DurationCPU),
		column.String("seedStateAtStart", &e.SeedStateAtStart),
		column.Int32("index", &e.Index),
		column.Bool("aborted", &e.Aborted),
		column.Bool("primaryHitMachine", &e.PrimaryHitMachine),
		column.Bool("primaryAbsorbedInCollimator", &e.PrimaryAbsorbedInCollimator),
		column.Float64("memoryUsageMb", &e.MemoryUsageMb),
		column.Float64("energyDeposited", &e.EnergyDeposited),
		column.Float64("energyDepositedVacuum", &e.EnergyDepositedVacuum),
		column.Float64("energyDepositedWorld", &e.EnergyDepositedWorld),
		column.Float64("energyDepositedWorldContents", &e.EnergyDepositedWorldContents),
		column.Float64("energyDepositedTunnel", &e.EnergyDepositedTunnel),
		column.Float64("energyWorldExit", &e.EnergyWorldExit),
		column.Float64("energyKilled", &e.EnergyKilled),
		column.Float64("energyImpactingAperture", &e.EnergyImpactingAperture),
		column.Float64("energyTotal", &e.EnergyTotal),
		column.Int32("nCollimatorsInteracted", &e.NCollimatorsInteracted),
		column.Int32("nTracks", &e.NTracks),
	)
	return e
}

func (e *EventInfo) Kind() string { return KindEventInfo }
func (e *EventInfo) Version() int { return EventInfoVersion }
func (e *EventInfo) Flush()       { column.ResetAll(e.fields) }

// Fill copies the simulation's bookkeeping for one event.
func (e *EventInfo) Fill(index int32, info hits.Info) {
	e.Index = index
	e.StartTime = info.Start.UnixNano()
	e.StopTime = info.Stop.UnixNano()
	e.DurationWall = info.Stop.Sub(info.Start).Seconds()
	e.DurationCPU = info.DurationCPU.Seconds()
	e.SeedStateAtStart = info.SeedState
	e.Aborted = info.Aborted
	e.MemoryUsageMb = info.MemoryUsageMb
	e.NTracks = info.NTracks
}

// SetEnergies stores the itemised totals and their sum.
func (e *EventInfo) SetEnergies(t EnergyTotals) {
	e.EnergyDeposited = t.Deposited
	e.EnergyDepositedVacuum = t.DepositedVacuum
	e.EnergyDepositedWorld = t.DepositedWorld
	e.EnergyDepositedWorldContents = t.DepositedWorldContents
	e.EnergyDepositedTunnel = t.DepositedTunnel
	e.EnergyWorldExit = t.WorldExit
	e.EnergyKilled = t.Killed
	e.EnergyTotal = t.Sum()
}

// Energies returns the itemised totals.
func (e *EventInfo) Energies() EnergyTotals {
	return EnergyTotals{
		Deposited:              e.EnergyDeposited,
		DepositedVacuum:        e.EnergyDepositedVacuum,
		DepositedWorld:         e.EnergyDepositedWorld,
		DepositedWorldContents: e.EnergyDepositedWorldContents,
		DepositedTunnel:        e.EnergyDepositedTunnel,
		WorldExit:              e.EnergyWorldExit,
		Killed:                 e.EnergyKilled,
	}
}

// EnergyBalance returns the reported total minus the sum of the items. It
// is not enforced when writing.
func (e *EventInfo) EnergyBalance() float64 {
	return e.EnergyTotal - e.Energies().Sum()
}

func (e *EventInfo) FillFrom(other *EventInfo) { column.CopyFields(e.fields, other.fields) }

// RunInfo is the run-level summary.
type RunInfo struct {
	fieldSet

	StartTime        int64
	StopTime         int64
	DurationWall     float64
	DurationCPU      float64
	SeedStateAtStart string
	NEventsRequested int64
	NEventsProcessed int64
	NEventsAborted   int64
}

func NewRunInfo() *RunInfo {
	r := &RunInfo{}
	r.bind(
		column.Int64("startTime", &r.StartTime),
		column.Int64("stopTime", &r.StopTime),
		column.Float64("durationWall", &r.DurationWall),
		column.Float64("durationCPU", &r.DurationCPU),
		column.String("seedStateAtStart", &r.SeedStateAtStart),
		column.Int64("nEventsRequested", &r.NEventsRequested),
		column.Int64("nEventsProcessed", &r.NEventsProcessed),
		column.Int64("nEventsAborted", &r.NEventsAborted),
	)
	return r
}

func (r *RunInfo) Kind() string { return KindRunInfo }
func (r *RunInfo) Version() int { return RunInfoVersion }
func (r *RunInfo) Flush()       { column.ResetAll(r.fields) }

// Fill copies the simulation's run bookkeeping.
func (r *RunInfo) Fill(run hits.Run) {
	r.StartTime = run.Start.UnixNano()
	r.StopTime = run.Stop.UnixNano()
	r.DurationWall = run.Stop.Sub(run.Start).Seconds()
	r.DurationCPU = run.DurationCPU.Seconds()
	r.SeedStateAtStart = run.SeedState
	r.NEventsRequested = run.NEventsRequested
	r.NEventsProcessed = run.NEventsProcessed
	r.NEventsAborted = run.NEventsAborted
}

func (r *RunInfo) FillFrom(other *RunInfo) { column.CopyFields(r.fields, other.fields) }

// Accumulate merges the summary of another run: durations and counters add
// up, the start is the earliest and the stop the latest. An empty receiver
// takes the other run's seed state.
func (r *RunInfo) Accumulate(other *RunInfo) {
	if r.StartTime == 0 || (other.StartTime != 0 && other.StartTime < r.StartTime) {
		r.StartTime = other.StartTime
	}
	r.StopTime = max(r.StopTime, other.StopTime)
	r.DurationWall += other.DurationWall
	r.DurationCPU += other.DurationCPU
	if r.SeedStateAtStart == "" {
		r.SeedStateAtStart = other.SeedStateAtStart
	}
	r.NEventsRequested += other.NEventsRequested
	r.NEventsProcessed += other.NEventsProcessed
	r.NEventsAborted += other.NEventsAborted
}

// Start returns the start time.
func (r *RunInfo) Start() time.Time { return time.Unix(0, r.StartTime) }
