// Package rec defines the persisted record types of a simulation run.
//
// Each record is a set of parallel columns bound to its own struct members.
// Optional column groups are chosen when the record is constructed and never
// change afterwards, so every entry a record produces has the layout it
// declared. Records are reset with Flush, accumulate domain data with Fill
// and copy another instance of the same type with FillFrom.
package rec

import "github.com/beamrec/beamrec/column"

// Record is a persisted column group.
type Record interface {
	Kind() string
	Version() int
	Fields() []column.Field
	Flush()
}

// Preparer is implemented by records that derive columns just before they
// are encoded.
type Preparer interface {
	PrepareWrite()
}

// Loaded is implemented by records that rebuild derived state after decoding.
type Loaded interface {
	AfterLoad()
}

// Record kinds as stored in a file's branch descriptors.
const (
	KindSampler         = "Sampler"
	KindSamplerC        = "SamplerC"
	KindSamplerS        = "SamplerS"
	KindLoss            = "Loss"
	KindLossWorld       = "LossWorld"
	KindCoords          = "Coords"
	KindCollimator      = "Collimator"
	KindApertureImpacts = "ApertureImpacts"
	KindTrajectory      = "Trajectory"
	KindHistos          = "Histos"
	KindEventInfo       = "EventInfo"
	KindRunInfo         = "RunInfo"
	KindHeader          = "Header"
	KindParticleData    = "ParticleData"
	KindModel           = "Model"
	KindBeam            = "Beam"
	KindOptions         = "Options"
)

// Record versions. A version only ever increases, whenever a column is added,
// removed or retyped.
const (
	SamplerVersion         = 5
	LossVersion            = 4
	LossWorldVersion       = 2
	CoordsVersion          = 1
	CollimatorVersion      = 3
	ApertureImpactsVersion = 2
	TrajectoryVersion      = 6
	HistosVersion          = 4
	EventInfoVersion       = 5
	RunInfoVersion         = 3
	HeaderVersion          = 5
	ParticleDataVersion    = 1
	ModelVersion           = 5
	BeamVersion            = 2
	OptionsVersion         = 1
)

// fieldSet holds the bound column list of a record.
type fieldSet struct {
	fields []column.Field
}

func (f *fieldSet) Fields() []column.Field { return f.fields }

func (f *fieldSet) bind(fs ...column.Field) { f.fields = append(f.fields, fs...) }

const mmPerMetre = 1000.0

func metres(mm float64) float64 { return mm / mmPerMetre }

func metresVec(v column.Vec3) column.Vec3 {
	return column.Vec3{X: metres(v.X), Y: metres(v.Y), Z: metres(v.Z)}
}
