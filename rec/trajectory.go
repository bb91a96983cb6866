package rec

import (
	"slices"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// ScatteringEnergyThreshold is the energy deposit (GeV) above which a
// transportation step still counts as an interaction.
const ScatteringEnergyThreshold = 1e-9

// IsScatteringPoint reports whether a step is an interaction vertex: its
// post-step process is not transportation, or it deposited more than the
// threshold.
func IsScatteringPoint(postProcessType int32, energyDeposit float64) bool {
	return postProcessType != hits.ProcessTransportation || energyDeposit > ScatteringEnergyThreshold
}

// TrajectoryOptions selects the optional per-step column groups.
type TrajectoryOptions struct {
	StoreLocal         bool `yaml:"local"`
	StoreModelID       bool `yaml:"model_id"`
	StoreKineticEnergy bool `yaml:"kinetic_energy"`
}

func TrajectoryOptionsFromColumns(descs []column.Desc) TrajectoryOptions {
	return TrajectoryOptions{
		StoreLocal:         column.Has(descs, "xyz"),
		StoreModelID:       column.Has(descs, "modelIndicies"),
		StoreKineticEnergy: column.Has(descs, "kineticEnergy"),
	}
}

// TrajectoryStep is one step of a stored track as read back from the
// record. Positions are in metres.
type TrajectoryStep struct {
	Index              int
	PreProcessType     int32
	PreProcessSubType  int32
	PostProcessType    int32
	PostProcessSubType int32
	PreWeight          float64
	PostWeight         float64
	EnergyDeposit      float64
	Position           column.Vec3
	Momentum           column.Vec3
	S                  float64
	T                  float64
}

// Creation names the process that created a track.
type Creation struct {
	TrackID        int32
	ProcessType    int32
	ProcessSubType int32
}

// Trajectory stores one row per track with nested per-step columns.
type Trajectory struct {
	fieldSet
	opts TrajectoryOptions
	// trackID -> row
	index map[int32]int

	N                int32
	PartID           []int32
	TrackID          []int32
	ParentID         []int32
	ParentIndex      []int32
	ParentStepIndex  []int32
	PrimaryStepIndex []int32
	Depth            []int32

	PreProcessTypes     [][]int32
	PreProcessSubTypes  [][]int32
	PostProcessTypes    [][]int32
	PostProcessSubTypes [][]int32
	PreWeights          [][]float64
	PostWeights         [][]float64
	EnergyDeposit       [][]float64
	XYZ                 [][]column.Vec3
	S                   [][]float64
	PXPYPZ              [][]column.Vec3
	T                   [][]float64

	LocalXYZ      [][]column.Vec3
	LocalPXPYPZ   [][]column.Vec3
	ModelIndicies [][]int32
	KineticEnergy [][]float64
}

func NewTrajectory(opts TrajectoryOptions) *Trajectory {
	t := &Trajectory{opts: opts, index: make(map[int32]int)}
	t.bind(
		column.Int32("n", &t.N),
		column.Int32s("partID", &t.PartID),
		column.Int32s("trackID", &t.TrackID),
		column.Int32s("parentID", &t.ParentID),
		column.Int32s("parentIndex", &t.ParentIndex),
		column.Int32s("parentStepIndex", &t.ParentStepIndex),
		column.Int32s("primaryStepIndex", &t.PrimaryStepIndex),
		column.Int32s("depth", &t.Depth),
		column.Int32ss("preProcessTypes", &t.PreProcessTypes),
		column.Int32ss("preProcessSubTypes", &t.PreProcessSubTypes),
		column.Int32ss("postProcessTypes", &t.PostProcessTypes),
		column.Int32ss("postProcessSubTypes", &t.PostProcessSubTypes),
		column.Float64ss("preWeights", &t.PreWeights),
		column.Float64ss("postWeights", &t.PostWeights),
		column.Float64ss("energyDeposit", &t.EnergyDeposit),
		column.Vectorss("XYZ", &t.XYZ),
		column.Float64ss("S", &t.S),
		column.Vectorss("PXPYPZ", &t.PXPYPZ),
		column.Float64ss("T", &t.T),
	)
	if opts.StoreLocal {
		t.bind(
			column.Vectorss("xyz", &t.LocalXYZ),
			column.Vectorss("pxpypz", &t.LocalPXPYPZ),
		)
	}
	if opts.StoreModelID {
		t.bind(column.Int32ss("modelIndicies", &t.ModelIndicies))
	}
	if opts.StoreKineticEnergy {
		t.bind(column.Float64ss("kineticEnergy", &t.KineticEnergy))
	}
	return t
}

func (t *Trajectory) Kind() string               { return KindTrajectory }
func (t *Trajectory) Version() int               { return TrajectoryVersion }
func (t *Trajectory) Options() TrajectoryOptions { return t.opts }

func (t *Trajectory) Flush() {
	column.ResetAll(t.fields)
	clear(t.index)
}

// Fill appends one track.
func (t *Trajectory) Fill(tr hits.Track) {
	t.index[tr.TrackID] = len(t.TrackID)
	t.PartID = append(t.PartID, tr.PDG)
	t.TrackID = append(t.TrackID, tr.TrackID)
	t.ParentID = append(t.ParentID, tr.ParentID)
	t.ParentIndex = append(t.ParentIndex, tr.ParentIndex)
	t.ParentStepIndex = append(t.ParentStepIndex, tr.ParentStepIndex)
	t.PrimaryStepIndex = append(t.PrimaryStepIndex, tr.PrimaryStepIndex)
	t.Depth = append(t.Depth, tr.Depth)

	n := len(tr.Points)
	preT, preS := make([]int32, n), make([]int32, n)
	postT, postS := make([]int32, n), make([]int32, n)
	preW, postW, edep := make([]float64, n), make([]float64, n), make([]float64, n)
	xyz, pxyz := make([]column.Vec3, n), make([]column.Vec3, n)
	s, tm := make([]float64, n), make([]float64, n)
	for i, p := range tr.Points {
		preT[i], preS[i] = p.PreProcessType, p.PreProcessSubType
		postT[i], postS[i] = p.PostProcessType, p.PostProcessSubType
		preW[i], postW[i], edep[i] = p.PreWeight, p.PostWeight, p.EnergyDeposit
		xyz[i], pxyz[i] = metresVec(p.Position), p.Momentum
		s[i], tm[i] = metres(p.S), p.Time
	}
	t.PreProcessTypes = append(t.PreProcessTypes, preT)
	t.PreProcessSubTypes = append(t.PreProcessSubTypes, preS)
	t.PostProcessTypes = append(t.PostProcessTypes, postT)
	t.PostProcessSubTypes = append(t.PostProcessSubTypes, postS)
	t.PreWeights = append(t.PreWeights, preW)
	t.PostWeights = append(t.PostWeights, postW)
	t.EnergyDeposit = append(t.EnergyDeposit, edep)
	t.XYZ = append(t.XYZ, xyz)
	t.PXPYPZ = append(t.PXPYPZ, pxyz)
	t.S = append(t.S, s)
	t.T = append(t.T, tm)

	if t.opts.StoreLocal {
		lxyz, lpxyz := make([]column.Vec3, n), make([]column.Vec3, n)
		for i, p := range tr.Points {
			lxyz[i], lpxyz[i] = metresVec(p.LocalPosition), p.LocalMomentum
		}
		t.LocalXYZ = append(t.LocalXYZ, lxyz)
		t.LocalPXPYPZ = append(t.LocalPXPYPZ, lpxyz)
	}
	if t.opts.StoreModelID {
		ids := make([]int32, n)
		for i, p := range tr.Points {
			ids[i] = p.ModelIndex
		}
		t.ModelIndicies = append(t.ModelIndicies, ids)
	}
	if t.opts.StoreKineticEnergy {
		ke := make([]float64, n)
		for i, p := range tr.Points {
			ke[i] = p.KineticEnergy
		}
		t.KineticEnergy = append(t.KineticEnergy, ke)
	}
	t.N++
}

func (t *Trajectory) FillFrom(other *Trajectory) {
	column.CopyFields(t.fields, other.fields)
	t.AfterLoad()
}

// AfterLoad rebuilds the track index.
func (t *Trajectory) AfterLoad() {
	clear(t.index)
	for row, id := range t.TrackID {
		t.index[id] = row
	}
}

// Row returns the row of a track.
func (t *Trajectory) Row(trackID int32) (int, bool) {
	row, ok := t.index[trackID]
	return row, ok
}

// Point returns one step of a track.
func (t *Trajectory) Point(trackID int32, step int) (TrajectoryStep, bool) {
	row, ok := t.index[trackID]
	if !ok || step < 0 || step >= len(t.PostProcessTypes[row]) {
		return TrajectoryStep{}, false
	}
	return t.step(row, step), true
}

func (t *Trajectory) step(row, i int) TrajectoryStep {
	return TrajectoryStep{
		Index:              i,
		PreProcessType:     t.PreProcessTypes[row][i],
		PreProcessSubType:  t.PreProcessSubTypes[row][i],
		PostProcessType:    t.PostProcessTypes[row][i],
		PostProcessSubType: t.PostProcessSubTypes[row][i],
		PreWeight:          t.PreWeights[row][i],
		PostWeight:         t.PostWeights[row][i],
		EnergyDeposit:      t.EnergyDeposit[row][i],
		Position:           t.XYZ[row][i],
		Momentum:           t.PXPYPZ[row][i],
		S:                  t.S[row][i],
		T:                  t.T[row][i],
	}
}

// FirstScatteringPoint returns the first interaction vertex of a track.
func (t *Trajectory) FirstScatteringPoint(trackID int32) (TrajectoryStep, bool) {
	row, ok := t.index[trackID]
	if !ok {
		return TrajectoryStep{}, false
	}
	for i, pt := range t.PostProcessTypes[row] {
		if IsScatteringPoint(pt, t.EnergyDeposit[row][i]) {
			return t.step(row, i), true
		}
	}
	return TrajectoryStep{}, false
}

// ProcessHistory returns the creation processes along the ancestry of a
// track, from the primary's first daughter down to the track itself.
// Ancestors that were not stored end the walk.
func (t *Trajectory) ProcessHistory(trackID int32) []Creation {
	row, ok := t.index[trackID]
	if !ok {
		return nil
	}
	var history []Creation
	for depth := 0; t.ParentID[row] != 0 && depth < len(t.TrackID); depth++ {
		parent, found := t.index[t.ParentID[row]]
		if !found {
			break
		}
		step := int(t.ParentStepIndex[row])
		c := Creation{TrackID: t.TrackID[row]}
		if step >= 0 && step < len(t.PostProcessTypes[parent]) {
			c.ProcessType = t.PostProcessTypes[parent][step]
			c.ProcessSubType = t.PostProcessSubTypes[parent][step]
		}
		history = append(history, c)
		row = parent
	}
	slices.Reverse(history)
	return history
}

// ParentIsPrimary reports whether a track's parent is the primary.
func (t *Trajectory) ParentIsPrimary(trackID int32) bool {
	row, ok := t.index[trackID]
	if !ok {
		return false
	}
	parent, ok := t.index[t.ParentID[row]]
	if !ok {
		return false
	}
	return t.ParentID[parent] == 0
}
