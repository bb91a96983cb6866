package rec

import (
	"math"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// SamplerOptions selects the derived column groups of a sampler. They are
// computed by FillExtras, never at Fill time.
type SamplerOptions struct {
	StoreMass          bool `yaml:"mass"`
	StoreCharge        bool `yaml:"charge"`
	StoreKineticEnergy bool `yaml:"kinetic_energy"`
	StoreRigidity      bool `yaml:"rigidity"`
	StoreIon           bool `yaml:"ion"`
}

// Any reports whether any derived group is enabled.
func (o SamplerOptions) Any() bool {
	return o.StoreMass || o.StoreCharge || o.StoreKineticEnergy || o.StoreRigidity || o.StoreIon
}

// SamplerOptionsFromColumns recovers the options a sampler was written with.
func SamplerOptionsFromColumns(descs []column.Desc) SamplerOptions {
	return SamplerOptions{
		StoreMass:          column.Has(descs, "mass"),
		StoreCharge:        column.Has(descs, "charge"),
		StoreKineticEnergy: column.Has(descs, "kineticEnergy"),
		StoreRigidity:      column.Has(descs, "rigidity"),
		StoreIon:           column.Has(descs, "isIon"),
	}
}

// SamplerKind returns the record kind for a sampler shape.
func SamplerKind(shape hits.Shape) string {
	switch shape {
	case hits.Cylinder:
		return KindSamplerC
	case hits.Sphere:
		return KindSamplerS
	}
	return KindSampler
}

// ShapeOfKind is the inverse of SamplerKind.
func ShapeOfKind(kind string) (hits.Shape, bool) {
	switch kind {
	case KindSampler:
		return hits.Plane, true
	case KindSamplerC:
		return hits.Cylinder, true
	case KindSamplerS:
		return hits.Sphere, true
	}
	return hits.Plane, false
}

// Sampler records particles crossing one sampler surface during an event.
// All rows of an entry share S and ModelID.
type Sampler struct {
	fieldSet
	shape hits.Shape
	opts  SamplerOptions
	// rows before this index already carry their derived columns
	extrasDone int

	N       int32
	S       float64
	ModelID int32

	Energy     []float64
	P          []float64
	T          []float64
	Weight     []float64
	PartID     []int32
	TrackID    []int32
	ParentID   []int32
	TurnNumber []int32
	ZP         []float64

	// plane
	X  []float64
	Y  []float64
	Z  []float64
	XP []float64
	YP []float64

	// cylindrical and spherical
	R      []float64
	Phi    []float64
	RP     []float64
	PhiP   []float64
	Theta  []float64
	ThetaP []float64

	Mass          []float64
	Charge        []int32
	KineticEnergy []float64
	Rigidity      []float64
	IsIon         []bool
	IonA          []int32
	IonZ          []int32
	NElectrons    []int32
}

// NewSampler returns an empty sampler of the given shape.
func NewSampler(shape hits.Shape, opts SamplerOptions) *Sampler {
	s := &Sampler{shape: shape, opts: opts}
	s.bind(
		column.Int32("n", &s.N),
		column.Float64("S", &s.S),
		column.Int32("modelID", &s.ModelID),
		column.Float64s("energy", &s.Energy),
		column.Float64s("p", &s.P),
		column.Float64s("T", &s.T),
		column.Float64s("weight", &s.Weight),
		column.Int32s("partID", &s.PartID),
		column.Int32s("trackID", &s.TrackID),
		column.Int32s("parentID", &s.ParentID),
		column.Int32s("turnNumber", &s.TurnNumber),
		column.Float64s("zp", &s.ZP),
	)
	switch shape {
	case hits.Plane:
		s.bind(
			column.Float64s("x", &s.X),
			column.Float64s("y", &s.Y),
			column.Float64s("z", &s.Z),
			column.Float64s("xp", &s.XP),
			column.Float64s("yp", &s.YP),
		)
	case hits.Cylinder:
		s.bind(
			column.Float64s("z", &s.Z),
			column.Float64s("r", &s.R),
			column.Float64s("phi", &s.Phi),
			column.Float64s("rp", &s.RP),
			column.Float64s("phip", &s.PhiP),
		)
	case hits.Sphere:
		s.bind(
			column.Float64s("r", &s.R),
			column.Float64s("theta", &s.Theta),
			column.Float64s("phi", &s.Phi),
			column.Float64s("rp", &s.RP),
			column.Float64s("thetap", &s.ThetaP),
			column.Float64s("phip", &s.PhiP),
		)
	}
	if opts.StoreMass {
		s.bind(column.Float64s("mass", &s.Mass))
	}
	if opts.StoreCharge {
		s.bind(column.Int32s("charge", &s.Charge))
	}
	if opts.StoreKineticEnergy {
		s.bind(column.Float64s("kineticEnergy", &s.KineticEnergy))
	}
	if opts.StoreRigidity {
		s.bind(column.Float64s("rigidity", &s.Rigidity))
	}
	if opts.StoreIon {
		s.bind(
			column.Bools("isIon", &s.IsIon),
			column.Int32s("ionA", &s.IonA),
			column.Int32s("ionZ", &s.IonZ),
			column.Int32s("nElectrons", &s.NElectrons),
		)
	}
	return s
}

func (s *Sampler) Kind() string            { return SamplerKind(s.shape) }
func (s *Sampler) Version() int            { return SamplerVersion }
func (s *Sampler) Shape() hits.Shape       { return s.shape }
func (s *Sampler) Options() SamplerOptions { return s.opts }

func (s *Sampler) Flush() {
	column.ResetAll(s.fields)
	s.extrasDone = 0
}

// Fill appends one crossing.
func (s *Sampler) Fill(h hits.SamplerHit) {
	s.S = metres(h.S)
	s.ModelID = h.ModelID
	s.Energy = append(s.Energy, h.TotalEnergy)
	s.P = append(s.P, h.Momentum)
	s.T = append(s.T, h.Time)
	s.Weight = append(s.Weight, h.Weight)
	s.PartID = append(s.PartID, h.PDG)
	s.TrackID = append(s.TrackID, h.TrackID)
	s.ParentID = append(s.ParentID, h.ParentID)
	s.TurnNumber = append(s.TurnNumber, h.Turn)
	s.ZP = append(s.ZP, h.Direction.Z)

	pos := metresVec(h.Position)
	dir := h.Direction
	switch s.shape {
	case hits.Plane:
		s.X = append(s.X, pos.X)
		s.Y = append(s.Y, pos.Y)
		s.Z = append(s.Z, pos.Z)
		s.XP = append(s.XP, dir.X)
		s.YP = append(s.YP, dir.Y)
	case hits.Cylinder:
		r, phi, rp, phip := cylindrical(pos, dir)
		s.Z = append(s.Z, pos.Z)
		s.R = append(s.R, r)
		s.Phi = append(s.Phi, phi)
		s.RP = append(s.RP, rp)
		s.PhiP = append(s.PhiP, phip)
	case hits.Sphere:
		r, theta, phi, rp, thetap, phip := spherical(pos, dir)
		s.R = append(s.R, r)
		s.Theta = append(s.Theta, theta)
		s.Phi = append(s.Phi, phi)
		s.RP = append(s.RP, rp)
		s.ThetaP = append(s.ThetaP, thetap)
		s.PhiP = append(s.PhiP, phip)
	}
	s.N++
}

// FillExtras computes the enabled derived columns for every row added since
// the previous call. Rows whose particle the table does not know get zero
// values.
func (s *Sampler) FillExtras(table *ParticleData) {
	if !s.opts.Any() {
		s.extrasDone = int(s.N)
		return
	}
	for i := s.extrasDone; i < int(s.N); i++ {
		pdg, e := s.PartID[i], s.Energy[i]
		var (
			mass, ke, rig float64
			charge        int32
			ion           bool
			a, z, ne      int32
		)
		if table != nil {
			mass = table.Mass(pdg)
			charge = table.Charge(pdg)
			ke = table.KineticEnergy(pdg, e)
			rig = table.Rigidity(pdg, e)
			ion = table.IsIon(pdg)
			a, z, ne = table.IonA(pdg), table.IonZ(pdg), table.NElectrons(pdg)
		}
		if s.opts.StoreMass {
			s.Mass = append(s.Mass, mass)
		}
		if s.opts.StoreCharge {
			s.Charge = append(s.Charge, charge)
		}
		if s.opts.StoreKineticEnergy {
			s.KineticEnergy = append(s.KineticEnergy, ke)
		}
		if s.opts.StoreRigidity {
			s.Rigidity = append(s.Rigidity, rig)
		}
		if s.opts.StoreIon {
			s.IsIon = append(s.IsIon, ion)
			s.IonA = append(s.IonA, a)
			s.IonZ = append(s.IonZ, z)
			s.NElectrons = append(s.NElectrons, ne)
		}
	}
	s.extrasDone = int(s.N)
}

// FillFrom copy-assigns another sampler.
func (s *Sampler) FillFrom(other *Sampler) {
	column.CopyFields(s.fields, other.fields)
	s.extrasDone = other.extrasDone
}

// AfterLoad marks decoded rows as complete.
func (s *Sampler) AfterLoad() { s.extrasDone = int(s.N) }

// cylindrical returns the radius, azimuth and the radial and azimuthal
// direction components of a point on a cylinder around the local z axis.
func cylindrical(pos, dir column.Vec3) (r, phi, rp, phip float64) {
	r = math.Hypot(pos.X, pos.Y)
	phi = math.Atan2(pos.Y, pos.X)
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)
	rp = dir.X*cosPhi + dir.Y*sinPhi
	phip = -dir.X*sinPhi + dir.Y*cosPhi
	return r, phi, rp, phip
}

// spherical returns the spherical coordinates of a point and the direction
// components along the local unit vectors r, theta and phi.
func spherical(pos, dir column.Vec3) (r, theta, phi, rp, thetap, phip float64) {
	r = math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if r > 0 {
		theta = math.Acos(pos.Z / r)
	}
	phi = math.Atan2(pos.Y, pos.X)
	st, ct := math.Sin(theta), math.Cos(theta)
	sp, cp := math.Sin(phi), math.Cos(phi)
	rp = dir.X*st*cp + dir.Y*st*sp + dir.Z*ct
	thetap = dir.X*ct*cp + dir.Y*ct*sp - dir.Z*st
	phip = -dir.X*sp + dir.Y*cp
	return r, theta, phi, rp, thetap, phip
}
