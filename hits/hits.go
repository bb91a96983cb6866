// Package hits defines the simulation-side inputs that are routed into
// output records once per event. Lengths are in mm, energies in GeV, times in
// ns and momenta in GeV/c.
package hits

import (
	"time"

	"github.com/beamrec/beamrec/column"
)

// Process type codes as reported by the transport engine.
const (
	ProcessNotDefined      int32 = 0
	ProcessTransportation  int32 = 1
	ProcessElectromagnetic int32 = 2
	ProcessOptical         int32 = 3
	ProcessHadronic        int32 = 4
	ProcessPhotolepton     int32 = 5
	ProcessDecay           int32 = 6
	ProcessGeneral         int32 = 7
	ProcessParameterised   int32 = 8
	ProcessUserDefined     int32 = 9
	ProcessParallel        int32 = 10
	ProcessPhonon          int32 = 11
	ProcessUCN             int32 = 12
)

// Shape is the geometry of a sampler surface.
type Shape uint8

const (
	Plane Shape = iota
	Cylinder
	Sphere
)

var shapeNames = map[Shape]string{
	Plane:    "plane",
	Cylinder: "cylinder",
	Sphere:   "sphere",
}

func (s Shape) String() string { return shapeNames[s] }

// ParseShape maps a configuration string to a Shape.
func ParseShape(s string) (Shape, bool) {
	for k, v := range shapeNames {
		if v == s {
			return k, true
		}
	}
	return Plane, false
}

// SamplerHit is one particle crossing a sampler surface. Position and
// Direction are in the sampler's local frame.
type SamplerHit struct {
	Sampler     int // index into the registry collection of the hit's shape
	Shape       Shape
	Position    column.Vec3
	Direction   column.Vec3 // unit momentum direction
	S           float64
	TotalEnergy float64
	Momentum    float64
	Time        float64
	Weight      float64
	PDG         int32
	TrackID     int32
	ParentID    int32
	Turn        int32
	ModelID     int32
}

// EnergyDeposit is one energy deposition step.
type EnergyDeposit struct {
	Energy                 float64
	S                      float64
	Weight                 float64
	Turn                   int32
	PDG                    int32
	TrackID                int32
	ParentID               int32
	ModelID                int32
	Local                  column.Vec3
	Global                 column.Vec3
	Time                   float64
	StepLength             float64
	PreStepKineticEnergy   float64
	PostStepProcessType    int32
	PostStepProcessSubType int32
}

// CollimatorHit is one step inside a collimator jaw.
type CollimatorHit struct {
	Collimator      int         // index into the registry collimator collection
	Position        column.Vec3 // local, at step entry
	Direction       column.Vec3
	TotalEnergy     float64
	EnergyDeposited float64
	Time            float64
	Weight          float64
	PDG             int32
	TrackID         int32
	ParentID        int32
	Turn            int32
	IsPrimary       bool
}

// ApertureImpact is a particle leaving the beam pipe aperture.
type ApertureImpact struct {
	S           float64
	Position    column.Vec3 // local
	Direction   column.Vec3
	TotalEnergy float64
	Time        float64
	Weight      float64
	PDG         int32
	TrackID     int32
	ParentID    int32
	Turn        int32
	ModelID     int32
	IsPrimary   bool
}

// Vertex is a point in global coordinates.
type Vertex struct {
	Position column.Vec3
	Momentum column.Vec3
	Time     float64
}

// TrajectoryPoint is one step of a stored track.
type TrajectoryPoint struct {
	PreProcessType     int32
	PreProcessSubType  int32
	PostProcessType    int32
	PostProcessSubType int32
	PreWeight          float64
	PostWeight         float64
	EnergyDeposit      float64
	Position           column.Vec3 // global
	Momentum           column.Vec3
	S                  float64
	Time               float64
	LocalPosition      column.Vec3
	LocalMomentum      column.Vec3
	ModelIndex         int32
	KineticEnergy      float64
}

// Track is a stored particle trajectory.
type Track struct {
	PDG              int32
	TrackID          int32
	ParentID         int32
	ParentIndex      int32
	ParentStepIndex  int32
	PrimaryStepIndex int32
	Depth            int32
	Points           []TrajectoryPoint
}

// Info is per-event bookkeeping supplied by the simulation.
type Info struct {
	Start         time.Time
	Stop          time.Time
	DurationCPU   time.Duration
	SeedState     string
	Aborted       bool
	MemoryUsageMb float64
	EnergyKilled  float64
	NTracks       int32
}

// Event gathers every hit collection produced by one simulated event.
type Event struct {
	Index int32

	Primary       *SamplerHit
	PrimaryGlobal *Vertex

	Samplers []SamplerHit

	Eloss              []EnergyDeposit
	ElossVacuum        []EnergyDeposit
	ElossTunnel        []EnergyDeposit
	ElossWorld         []EnergyDeposit
	ElossWorldExit     []EnergyDeposit
	ElossWorldContents []EnergyDeposit

	PrimaryFirstHit *EnergyDeposit
	PrimaryLastHit  *EnergyDeposit

	Collimators []CollimatorHit
	// PrimaryStopped reports that the primary stopped in collimator
	// PrimaryStoppedIn. PrimaryStoppedIn is ignored otherwise.
	PrimaryStopped   bool
	PrimaryStoppedIn int

	ApertureImpacts []ApertureImpact
	Tracks          []Track

	Info Info
}

// StopPrimaryIn records that the primary stopped in collimator i.
func (e *Event) StopPrimaryIn(i int) {
	e.PrimaryStopped = true
	e.PrimaryStoppedIn = i
}

// Run is the run-level bookkeeping supplied by the simulation.
type Run struct {
	Start            time.Time
	Stop             time.Time
	DurationCPU      time.Duration
	SeedState        string
	NEventsRequested int64
	NEventsProcessed int64
	NEventsAborted   int64
}
