package rec

import (
	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// LossOptions selects the optional column groups of an energy deposition
// record.
type LossOptions struct {
	Turn                 bool `yaml:"turn"`
	Links                bool `yaml:"links"`
	ModelID              bool `yaml:"model_id"`
	Local                bool `yaml:"local"`
	Global               bool `yaml:"global"`
	Time                 bool `yaml:"time"`
	StepLength           bool `yaml:"step_length"`
	PreStepKineticEnergy bool `yaml:"pre_step_kinetic_energy"`
	PhysicsProcesses     bool `yaml:"physics_processes"`
}

// LossOptionsFromColumns recovers the options a loss record was written with.
func LossOptionsFromColumns(descs []column.Desc) LossOptions {
	return LossOptions{
		Turn:                 column.Has(descs, "turn"),
		Links:                column.Has(descs, "partID"),
		ModelID:              column.Has(descs, "modelID"),
		Local:                column.Has(descs, "x"),
		Global:               column.Has(descs, "X"),
		Time:                 column.Has(descs, "T"),
		StepLength:           column.Has(descs, "stepLength"),
		PreStepKineticEnergy: column.Has(descs, "preStepKineticEnergy"),
		PhysicsProcesses:     column.Has(descs, "postStepProcessType"),
	}
}

// Loss holds energy deposition steps. The mandatory columns are energy, S
// and weight; every other group exists only if enabled at construction.
type Loss struct {
	fieldSet
	opts LossOptions

	N      int32
	Energy []float64
	S      []float64
	Weight []float64

	Turn     []int32
	PartID   []int32
	TrackID  []int32
	ParentID []int32
	ModelID  []int32
	X        []float64
	Y        []float64
	Z        []float64
	GX       []float64
	GY       []float64
	GZ       []float64
	T        []float64

	StepLength             []float64
	PreStepKineticEnergy   []float64
	PostStepProcessType    []int32
	PostStepProcessSubType []int32
}

// NewLoss returns an empty loss record with the given column groups.
func NewLoss(opts LossOptions) *Loss {
	l := &Loss{opts: opts}
	l.bind(
		column.Int32("n", &l.N),
		column.Float64s("energy", &l.Energy),
		column.Float64s("S", &l.S),
		column.Float64s("weight", &l.Weight),
	)
	if opts.Turn {
		l.bind(column.Int32s("turn", &l.Turn))
	}
	if opts.Links {
		l.bind(
			column.Int32s("partID", &l.PartID),
			column.Int32s("trackID", &l.TrackID),
			column.Int32s("parentID", &l.ParentID),
		)
	}
	if opts.ModelID {
		l.bind(column.Int32s("modelID", &l.ModelID))
	}
	if opts.Local {
		l.bind(
			column.Float64s("x", &l.X),
			column.Float64s("y", &l.Y),
			column.Float64s("z", &l.Z),
		)
	}
	if opts.Global {
		l.bind(
			column.Float64s("X", &l.GX),
			column.Float64s("Y", &l.GY),
			column.Float64s("Z", &l.GZ),
		)
	}
	if opts.Time {
		l.bind(column.Float64s("T", &l.T))
	}
	if opts.StepLength {
		l.bind(column.Float64s("stepLength", &l.StepLength))
	}
	if opts.PreStepKineticEnergy {
		l.bind(column.Float64s("preStepKineticEnergy", &l.PreStepKineticEnergy))
	}
	if opts.PhysicsProcesses {
		l.bind(
			column.Int32s("postStepProcessType", &l.PostStepProcessType),
			column.Int32s("postStepProcessSubType", &l.PostStepProcessSubType),
		)
	}
	return l
}

func (l *Loss) Kind() string         { return KindLoss }
func (l *Loss) Version() int         { return LossVersion }
func (l *Loss) Options() LossOptions { return l.opts }
func (l *Loss) Flush()               { column.ResetAll(l.fields) }

// Fill appends one deposition step.
func (l *Loss) Fill(h hits.EnergyDeposit) {
	l.Energy = append(l.Energy, h.Energy)
	l.S = append(l.S, metres(h.S))
	l.Weight = append(l.Weight, h.Weight)
	if l.opts.Turn {
		l.Turn = append(l.Turn, h.Turn)
	}
	if l.opts.Links {
		l.PartID = append(l.PartID, h.PDG)
		l.TrackID = append(l.TrackID, h.TrackID)
		l.ParentID = append(l.ParentID, h.ParentID)
	}
	if l.opts.ModelID {
		l.ModelID = append(l.ModelID, h.ModelID)
	}
	if l.opts.Local {
		p := metresVec(h.Local)
		l.X = append(l.X, p.X)
		l.Y = append(l.Y, p.Y)
		l.Z = append(l.Z, p.Z)
	}
	if l.opts.Global {
		p := metresVec(h.Global)
		l.GX = append(l.GX, p.X)
		l.GY = append(l.GY, p.Y)
		l.GZ = append(l.GZ, p.Z)
	}
	if l.opts.Time {
		l.T = append(l.T, h.Time)
	}
	if l.opts.StepLength {
		l.StepLength = append(l.StepLength, metres(h.StepLength))
	}
	if l.opts.PreStepKineticEnergy {
		l.PreStepKineticEnergy = append(l.PreStepKineticEnergy, h.PreStepKineticEnergy)
	}
	if l.opts.PhysicsProcesses {
		l.PostStepProcessType = append(l.PostStepProcessType, h.PostStepProcessType)
		l.PostStepProcessSubType = append(l.PostStepProcessSubType, h.PostStepProcessSubType)
	}
	l.N++
}

// FillFrom copy-assigns another loss record.
func (l *Loss) FillFrom(other *Loss) { column.CopyFields(l.fields, other.fields) }

// TotalEnergy returns the weighted sum of deposited energy.
func (l *Loss) TotalEnergy() float64 {
	var sum float64
	for i, e := range l.Energy {
		sum += e * l.Weight[i]
	}
	return sum
}

// LossWorld holds depositions without a curvilinear coordinate.
type LossWorld struct {
	fieldSet

	N                    int32
	Energy               []float64
	X                    []float64
	Y                    []float64
	Z                    []float64
	T                    []float64
	Weight               []float64
	PartID               []int32
	TrackID              []int32
	ParentID             []int32
	Turn                 []int32
	PreStepKineticEnergy []float64
}

func NewLossWorld() *LossWorld {
	l := &LossWorld{}
	l.bind(
		column.Int32("n", &l.N),
		column.Float64s("energy", &l.Energy),
		column.Float64s("X", &l.X),
		column.Float64s("Y", &l.Y),
		column.Float64s("Z", &l.Z),
		column.Float64s("T", &l.T),
		column.Float64s("weight", &l.Weight),
		column.Int32s("partID", &l.PartID),
		column.Int32s("trackID", &l.TrackID),
		column.Int32s("parentID", &l.ParentID),
		column.Int32s("turn", &l.Turn),
		column.Float64s("preStepKineticEnergy", &l.PreStepKineticEnergy),
	)
	return l
}

func (l *LossWorld) Kind() string { return KindLossWorld }
func (l *LossWorld) Version() int { return LossWorldVersion }
func (l *LossWorld) Flush()       { column.ResetAll(l.fields) }

// Fill appends one deposition using its global coordinates.
func (l *LossWorld) Fill(h hits.EnergyDeposit) {
	p := metresVec(h.Global)
	l.Energy = append(l.Energy, h.Energy)
	l.X = append(l.X, p.X)
	l.Y = append(l.Y, p.Y)
	l.Z = append(l.Z, p.Z)
	l.T = append(l.T, h.Time)
	l.Weight = append(l.Weight, h.Weight)
	l.PartID = append(l.PartID, h.PDG)
	l.TrackID = append(l.TrackID, h.TrackID)
	l.ParentID = append(l.ParentID, h.ParentID)
	l.Turn = append(l.Turn, h.Turn)
	l.PreStepKineticEnergy = append(l.PreStepKineticEnergy, h.PreStepKineticEnergy)
	l.N++
}

func (l *LossWorld) FillFrom(other *LossWorld) { column.CopyFields(l.fields, other.fields) }

// TotalEnergy returns the weighted sum of deposited energy.
func (l *LossWorld) TotalEnergy() float64 {
	var sum float64
	for i, e := range l.Energy {
		sum += e * l.Weight[i]
	}
	return sum
}

// Coords is the global position and momentum of a single particle.
type Coords struct {
	fieldSet

	N  int32
	X  float64
	Y  float64
	Z  float64
	Px float64
	Py float64
	Pz float64
	T  float64
}

func NewCoords() *Coords {
	c := &Coords{}
	c.bind(
		column.Int32("n", &c.N),
		column.Float64("X", &c.X),
		column.Float64("Y", &c.Y),
		column.Float64("Z", &c.Z),
		column.Float64("Px", &c.Px),
		column.Float64("Py", &c.Py),
		column.Float64("Pz", &c.Pz),
		column.Float64("T", &c.T),
	)
	return c
}

func (c *Coords) Kind() string { return KindCoords }
func (c *Coords) Version() int { return CoordsVersion }
func (c *Coords) Flush()       { column.ResetAll(c.fields) }

// Fill replaces the stored vertex.
func (c *Coords) Fill(v hits.Vertex) {
	p := metresVec(v.Position)
	c.N = 1
	c.X, c.Y, c.Z = p.X, p.Y, p.Z
	c.Px, c.Py, c.Pz = v.Momentum.X, v.Momentum.Y, v.Momentum.Z
	c.T = v.Time
}

func (c *Coords) FillFrom(other *Coords) { column.CopyFields(c.fields, other.fields) }
