package rec

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// ApertureImpacts holds the points where particles left the beam pipe.
// Kinetic energy and ion columns are derived by FillExtras.
type ApertureImpacts struct {
	fieldSet
	primaryTurns *roaring.Bitmap
	totalEnergy  []float64
	extrasDone   int

	N                  int32
	S                  []float64
	Weight             []float64
	IsPrimary          []bool
	FirstPrimaryImpact []bool
	PartID             []int32
	Turn               []int32
	X                  []float64
	Y                  []float64
	XP                 []float64
	YP                 []float64
	T                  []float64
	KineticEnergy      []float64
	IsIon              []bool
	IonA               []int32
	IonZ               []int32
	NElectrons         []int32
	TrackID            []int32
	ParentID           []int32
	ModelID            []int32
}

func NewApertureImpacts() *ApertureImpacts {
	a := &ApertureImpacts{primaryTurns: roaring.New()}
	a.bind(
		column.Int32("n", &a.N),
		column.Float64s("S", &a.S),
		column.Float64s("weight", &a.Weight),
		column.Bools("isPrimary", &a.IsPrimary),
		column.Bools("firstPrimaryImpact", &a.FirstPrimaryImpact),
		column.Int32s("partID", &a.PartID),
		column.Int32s("turn", &a.Turn),
		column.Float64s("x", &a.X),
		column.Float64s("y", &a.Y),
		column.Float64s("xp", &a.XP),
		column.Float64s("yp", &a.YP),
		column.Float64s("T", &a.T),
		column.Float64s("kineticEnergy", &a.KineticEnergy),
		column.Bools("isIon", &a.IsIon),
		column.Int32s("ionA", &a.IonA),
		column.Int32s("ionZ", &a.IonZ),
		column.Int32s("nElectrons", &a.NElectrons),
		column.Int32s("trackID", &a.TrackID),
		column.Int32s("parentID", &a.ParentID),
		column.Int32s("modelID", &a.ModelID),
	)
	return a
}

func (a *ApertureImpacts) Kind() string { return KindApertureImpacts }
func (a *ApertureImpacts) Version() int { return ApertureImpactsVersion }

func (a *ApertureImpacts) Flush() {
	column.ResetAll(a.fields)
	a.primaryTurns.Clear()
	a.totalEnergy = a.totalEnergy[:0]
	a.extrasDone = 0
}

// Fill appends one impact.
func (a *ApertureImpacts) Fill(h hits.ApertureImpact) {
	pos := metresVec(h.Position)
	a.S = append(a.S, metres(h.S))
	a.Weight = append(a.Weight, h.Weight)
	a.IsPrimary = append(a.IsPrimary, h.IsPrimary)
	first := false
	if h.IsPrimary {
		first = a.primaryTurns.CheckedAdd(uint32(h.Turn))
	}
	a.FirstPrimaryImpact = append(a.FirstPrimaryImpact, first)
	a.PartID = append(a.PartID, h.PDG)
	a.Turn = append(a.Turn, h.Turn)
	a.X = append(a.X, pos.X)
	a.Y = append(a.Y, pos.Y)
	a.XP = append(a.XP, h.Direction.X)
	a.YP = append(a.YP, h.Direction.Y)
	a.T = append(a.T, h.Time)
	a.TrackID = append(a.TrackID, h.TrackID)
	a.ParentID = append(a.ParentID, h.ParentID)
	a.ModelID = append(a.ModelID, h.ModelID)
	a.totalEnergy = append(a.totalEnergy, h.TotalEnergy)
	a.N++
}

// FillExtras derives kinetic energy and ion columns for rows added since the
// previous call.
func (a *ApertureImpacts) FillExtras(table *ParticleData) {
	for i := a.extrasDone; i < int(a.N); i++ {
		pdg := a.PartID[i]
		var e float64
		if i < len(a.totalEnergy) {
			e = a.totalEnergy[i]
		}
		if table == nil {
			a.KineticEnergy = append(a.KineticEnergy, 0)
			a.IsIon = append(a.IsIon, false)
			a.IonA = append(a.IonA, 0)
			a.IonZ = append(a.IonZ, 0)
			a.NElectrons = append(a.NElectrons, 0)
			continue
		}
		a.KineticEnergy = append(a.KineticEnergy, table.KineticEnergy(pdg, e))
		a.IsIon = append(a.IsIon, table.IsIon(pdg))
		a.IonA = append(a.IonA, table.IonA(pdg))
		a.IonZ = append(a.IonZ, table.IonZ(pdg))
		a.NElectrons = append(a.NElectrons, table.NElectrons(pdg))
	}
	a.extrasDone = int(a.N)
}

func (a *ApertureImpacts) FillFrom(other *ApertureImpacts) {
	column.CopyFields(a.fields, other.fields)
	a.primaryTurns = other.primaryTurns.Clone()
	a.totalEnergy = append(a.totalEnergy[:0], other.totalEnergy...)
	a.extrasDone = other.extrasDone
}

func (a *ApertureImpacts) AfterLoad() {
	a.primaryTurns.Clear()
	for i, primary := range a.IsPrimary {
		if primary && i < len(a.Turn) {
			a.primaryTurns.Add(uint32(a.Turn[i]))
		}
	}
	a.extrasDone = int(a.N)
}

// TotalKineticEnergy returns the weighted kinetic energy of all impacts.
func (a *ApertureImpacts) TotalKineticEnergy() float64 {
	var sum float64
	for i, ke := range a.KineticEnergy {
		sum += ke * a.Weight[i]
	}
	return sum
}
