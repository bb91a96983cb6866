package rec

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// CollimatorInfo is the static geometry of one collimator. Lengths are in
// metres and the tilt in radians.
type CollimatorInfo struct {
	Name       string  `yaml:"name"`
	Length     float64 `yaml:"length"`
	Tilt       float64 `yaml:"tilt"`
	XSizeIn    float64 `yaml:"x_size_in"`
	XSizeOut   float64 `yaml:"x_size_out"`
	YSizeIn    float64 `yaml:"y_size_in"`
	YSizeOut   float64 `yaml:"y_size_out"`
	Material   string  `yaml:"material"`
	ModelIndex int32   `yaml:"model_index"`
}

// BranchPrefix is prepended to a collimator's placement name to form its
// branch name.
const BranchPrefix = "COLL_"

// BranchName returns the persisted branch name of the collimator.
func (c CollimatorInfo) BranchName() string { return BranchPrefix + c.Name }

// CollimatorOptions selects the derived column groups of a collimator.
type CollimatorOptions struct {
	StoreCharge        bool `yaml:"charge"`
	StoreKineticEnergy bool `yaml:"kinetic_energy"`
	StoreMass          bool `yaml:"mass"`
	StoreRigidity      bool `yaml:"rigidity"`
	StoreIon           bool `yaml:"ion"`
}

func (o CollimatorOptions) Any() bool {
	return o.StoreCharge || o.StoreKineticEnergy || o.StoreMass || o.StoreRigidity || o.StoreIon
}

// CollimatorOptionsFromColumns recovers the options a collimator was written
// with.
func CollimatorOptionsFromColumns(descs []column.Desc) CollimatorOptions {
	return CollimatorOptions{
		StoreCharge:        column.Has(descs, "charge"),
		StoreKineticEnergy: column.Has(descs, "kineticEnergy"),
		StoreMass:          column.Has(descs, "mass"),
		StoreRigidity:      column.Has(descs, "rigidity"),
		StoreIon:           column.Has(descs, "isIon"),
	}
}

// Collimator summarises the hits in one collimator during an event.
type Collimator struct {
	fieldSet
	info CollimatorInfo
	opts CollimatorOptions

	// turns with a primary hit seen so far this event
	primaryTurns *roaring.Bitmap
	totalEnergy  []float64
	extrasDone   int

	PrimaryInteracted    bool
	PrimaryStopped       bool
	N                    int32
	TotalEnergyDeposited float64

	EnergyDeposited         []float64
	XIn                     []float64
	YIn                     []float64
	ZIn                     []float64
	XPIn                    []float64
	YPIn                    []float64
	ZPIn                    []float64
	T                       []float64
	Weight                  []float64
	PartID                  []int32
	ParentID                []int32
	Turn                    []int32
	IsPrimary               []bool
	FirstPrimaryHitThisTurn []bool
	ImpactParameterX        []float64
	ImpactParameterY        []float64

	Charge        []int32
	KineticEnergy []float64
	Mass          []float64
	Rigidity      []float64
	IsIon         []bool
	IonA          []int32
	IonZ          []int32
}

// NewCollimator returns an empty collimator record.
func NewCollimator(info CollimatorInfo, opts CollimatorOptions) *Collimator {
	c := &Collimator{info: info, opts: opts, primaryTurns: roaring.New()}
	c.bind(
		column.Bool("primaryInteracted", &c.PrimaryInteracted),
		column.Bool("primaryStopped", &c.PrimaryStopped),
		column.Int32("n", &c.N),
		column.Float64("totalEnergyDeposited", &c.TotalEnergyDeposited),
		column.Float64s("energyDeposited", &c.EnergyDeposited),
		column.Float64s("xIn", &c.XIn),
		column.Float64s("yIn", &c.YIn),
		column.Float64s("zIn", &c.ZIn),
		column.Float64s("xpIn", &c.XPIn),
		column.Float64s("ypIn", &c.YPIn),
		column.Float64s("zpIn", &c.ZPIn),
		column.Float64s("T", &c.T),
		column.Float64s("weight", &c.Weight),
		column.Int32s("partID", &c.PartID),
		column.Int32s("parentID", &c.ParentID),
		column.Int32s("turn", &c.Turn),
		column.Bools("isPrimary", &c.IsPrimary),
		column.Bools("firstPrimaryHitThisTurn", &c.FirstPrimaryHitThisTurn),
		column.Float64s("impactParameterX", &c.ImpactParameterX),
		column.Float64s("impactParameterY", &c.ImpactParameterY),
	)
	if opts.StoreCharge {
		c.bind(column.Int32s("charge", &c.Charge))
	}
	if opts.StoreKineticEnergy {
		c.bind(column.Float64s("kineticEnergy", &c.KineticEnergy))
	}
	if opts.StoreMass {
		c.bind(column.Float64s("mass", &c.Mass))
	}
	if opts.StoreRigidity {
		c.bind(column.Float64s("rigidity", &c.Rigidity))
	}
	if opts.StoreIon {
		c.bind(
			column.Bools("isIon", &c.IsIon),
			column.Int32s("ionA", &c.IonA),
			column.Int32s("ionZ", &c.IonZ),
		)
	}
	return c
}

func (c *Collimator) Kind() string               { return KindCollimator }
func (c *Collimator) Version() int               { return CollimatorVersion }
func (c *Collimator) Info() CollimatorInfo       { return c.info }
func (c *Collimator) Options() CollimatorOptions { return c.opts }

func (c *Collimator) Flush() {
	column.ResetAll(c.fields)
	c.primaryTurns.Clear()
	c.totalEnergy = c.totalEnergy[:0]
	c.extrasDone = 0
}

// Fill appends one hit. Positions in the hit are local to the collimator and
// in mm.
func (c *Collimator) Fill(h hits.CollimatorHit) {
	pos := metresVec(h.Position)
	c.EnergyDeposited = append(c.EnergyDeposited, h.EnergyDeposited)
	c.TotalEnergyDeposited += h.EnergyDeposited * h.Weight
	c.XIn = append(c.XIn, pos.X)
	c.YIn = append(c.YIn, pos.Y)
	c.ZIn = append(c.ZIn, pos.Z)
	c.XPIn = append(c.XPIn, h.Direction.X)
	c.YPIn = append(c.YPIn, h.Direction.Y)
	c.ZPIn = append(c.ZPIn, h.Direction.Z)
	c.T = append(c.T, h.Time)
	c.Weight = append(c.Weight, h.Weight)
	c.PartID = append(c.PartID, h.PDG)
	c.ParentID = append(c.ParentID, h.ParentID)
	c.Turn = append(c.Turn, h.Turn)
	c.IsPrimary = append(c.IsPrimary, h.IsPrimary)

	first := false
	if h.IsPrimary {
		c.PrimaryInteracted = true
		first = c.primaryTurns.CheckedAdd(uint32(h.Turn))
	}
	c.FirstPrimaryHitThisTurn = append(c.FirstPrimaryHitThisTurn, first)

	ix, iy := c.info.ImpactParameters(pos)
	c.ImpactParameterX = append(c.ImpactParameterX, ix)
	c.ImpactParameterY = append(c.ImpactParameterY, iy)
	c.totalEnergy = append(c.totalEnergy, h.TotalEnergy)
	c.N++
}

// SetPrimaryStopped records that the primary ended inside this collimator.
func (c *Collimator) SetPrimaryStopped(stopped bool) { c.PrimaryStopped = stopped }

// FillExtras computes the enabled derived columns for rows added since the
// previous call.
func (c *Collimator) FillExtras(table *ParticleData) {
	if !c.opts.Any() {
		c.extrasDone = int(c.N)
		return
	}
	for i := c.extrasDone; i < int(c.N); i++ {
		pdg := c.PartID[i]
		var e float64
		if i < len(c.totalEnergy) {
			e = c.totalEnergy[i]
		}
		var (
			charge, a, z  int32
			ke, mass, rig float64
			ion           bool
		)
		if table != nil {
			charge = table.Charge(pdg)
			ke = table.KineticEnergy(pdg, e)
			mass = table.Mass(pdg)
			rig = table.Rigidity(pdg, e)
			ion = table.IsIon(pdg)
			a, z = table.IonA(pdg), table.IonZ(pdg)
		}
		if c.opts.StoreCharge {
			c.Charge = append(c.Charge, charge)
		}
		if c.opts.StoreKineticEnergy {
			c.KineticEnergy = append(c.KineticEnergy, ke)
		}
		if c.opts.StoreMass {
			c.Mass = append(c.Mass, mass)
		}
		if c.opts.StoreRigidity {
			c.Rigidity = append(c.Rigidity, rig)
		}
		if c.opts.StoreIon {
			c.IsIon = append(c.IsIon, ion)
			c.IonA = append(c.IonA, a)
			c.IonZ = append(c.IonZ, z)
		}
	}
	c.extrasDone = int(c.N)
}

// FillFrom copy-assigns another collimator record.
func (c *Collimator) FillFrom(other *Collimator) {
	column.CopyFields(c.fields, other.fields)
	c.primaryTurns = other.primaryTurns.Clone()
	c.totalEnergy = append(c.totalEnergy[:0], other.totalEnergy...)
	c.extrasDone = other.extrasDone
}

// AfterLoad rebuilds the primary turn set from the decoded rows.
func (c *Collimator) AfterLoad() {
	c.primaryTurns.Clear()
	for i, primary := range c.IsPrimary {
		if primary && i < len(c.Turn) {
			c.primaryTurns.Add(uint32(c.Turn[i]))
		}
	}
	c.extrasDone = int(c.N)
}

// ImpactParameters returns how far a local point (m) lies beyond the jaw
// half aperture in x and y. The half aperture varies linearly from the
// entrance to the exit face; a tilted collimator's frame is rotated back
// first.
func (c CollimatorInfo) ImpactParameters(pos column.Vec3) (float64, float64) {
	f := 0.0
	if c.Length > 0 {
		f = (pos.Z + c.Length/2) / c.Length
	}
	f = math.Min(math.Max(f, 0), 1)
	halfX := c.XSizeIn + f*(c.XSizeOut-c.XSizeIn)
	halfY := c.YSizeIn + f*(c.YSizeOut-c.YSizeIn)

	x, y := pos.X, pos.Y
	if c.Tilt != 0 {
		cs, sn := math.Cos(-c.Tilt), math.Sin(-c.Tilt)
		x, y = x*cs-y*sn, x*sn+y*cs
	}
	return math.Abs(x) - halfX, math.Abs(y) - halfY
}

// CavityInfo is the static description of one RF cavity.
type CavityInfo struct {
	Name       string  `yaml:"name"`
	Length     float64 `yaml:"length"`
	Frequency  float64 `yaml:"frequency"`
	Phase      float64 `yaml:"phase"`
	Gradient   float64 `yaml:"gradient"`
	ModelIndex int32   `yaml:"model_index"`
}
