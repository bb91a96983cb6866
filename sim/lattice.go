package sim

import (
	"fmt"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

// Component types understood by the generator.
const (
	TypeDrift      = "drift"
	TypeQuadrupole = "quadrupole"
	TypeCollimator = "rcol"
	TypeMarker     = "marker"
)

// ValidComponentTypes lists the accepted component types.
var ValidComponentTypes = map[string]bool{
	TypeDrift:      true,
	TypeQuadrupole: true,
	TypeCollimator: true,
	TypeMarker:     true,
}

// DefaultAperture is the beam pipe half aperture in m when none is given.
const DefaultAperture = 0.03

// Component is one element of a straight beam line. Lengths are in m.
type Component struct {
	Name   string  `yaml:"name"`
	Type   string  `yaml:"type"`
	Length float64 `yaml:"length"`
	// Aperture is the circular beam pipe half aperture.
	Aperture float64 `yaml:"aperture"`
	// K1 is the normalised quadrupole strength in 1/m^2.
	K1 float64 `yaml:"k1"`
	// Sampler attaches a sampler of this shape at the component's end.
	Sampler string `yaml:"sampler"`
	// Collimator jaw half gaps.
	XGap     float64 `yaml:"x_gap"`
	YGap     float64 `yaml:"y_gap"`
	Material string  `yaml:"material"`
}

func (c Component) aperture() float64 {
	if c.Aperture > 0 {
		return c.Aperture
	}
	return DefaultAperture
}

// Lattice is an ordered straight beam line.
type Lattice struct {
	Components []Component `yaml:"components"`

	// resolved by Validate
	samplerIndex    []int
	samplerShape    []hits.Shape
	collimatorIndex []int
}

// DefaultLattice returns a short line with a primary collimator between two
// quadrupoles and samplers of every shape.
func DefaultLattice() *Lattice {
	l := &Lattice{Components: []Component{
		{Name: "d1", Type: TypeDrift, Length: 2, Sampler: "plane"},
		{Name: "qf1", Type: TypeQuadrupole, Length: 1, K1: 0.05, Sampler: "plane"},
		{Name: "d2", Type: TypeDrift, Length: 1},
		{Name: "tcp", Type: TypeCollimator, Length: 0.6, XGap: 0.0015, YGap: 0.004, Material: "C", Sampler: "plane"},
		{Name: "d3", Type: TypeDrift, Length: 2, Sampler: "cylinder"},
		{Name: "qd1", Type: TypeQuadrupole, Length: 1, K1: -0.05},
		{Name: "tcs", Type: TypeCollimator, Length: 1, XGap: 0.003, YGap: 0.006, Material: "W"},
		{Name: "d4", Type: TypeDrift, Length: 3, Sampler: "sphere"},
		{Name: "end", Type: TypeMarker, Sampler: "plane"},
	}}
	if err := l.Validate(); err != nil {
		panic(err)
	}
	return l
}

// Validate checks the components and resolves sampler and collimator
// indices.
func (l *Lattice) Validate() error {
	if len(l.Components) == 0 {
		return fmt.Errorf("lattice has no components")
	}
	seen := make(map[string]bool, len(l.Components))
	l.samplerIndex = make([]int, len(l.Components))
	l.samplerShape = make([]hits.Shape, len(l.Components))
	l.collimatorIndex = make([]int, len(l.Components))
	counts := map[hits.Shape]int{}
	nColl := 0
	for i, c := range l.Components {
		if c.Name == "" {
			return fmt.Errorf("component %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate component %q", c.Name)
		}
		seen[c.Name] = true
		if !ValidComponentTypes[c.Type] {
			return fmt.Errorf("component %q: unknown type %q", c.Name, c.Type)
		}
		if c.Length < 0 {
			return fmt.Errorf("component %q: negative length %g", c.Name, c.Length)
		}
		l.samplerIndex[i], l.collimatorIndex[i] = -1, -1
		if c.Type == TypeCollimator {
			if c.XGap <= 0 || c.YGap <= 0 {
				return fmt.Errorf("collimator %q: jaw gaps must be > 0", c.Name)
			}
			l.collimatorIndex[i] = nColl
			nColl++
		}
		if c.Sampler != "" {
			shape, ok := hits.ParseShape(c.Sampler)
			if !ok {
				return fmt.Errorf("component %q: unknown sampler shape %q", c.Name, c.Sampler)
			}
			if err := event.ValidateName(c.Name); err != nil {
				return fmt.Errorf("component %q: %w", c.Name, err)
			}
			l.samplerShape[i] = shape
			l.samplerIndex[i] = counts[shape]
			counts[shape]++
		}
	}
	return nil
}

// TotalLength returns the length of the line in m.
func (l *Lattice) TotalLength() float64 {
	total := 0.0
	for _, c := range l.Components {
		total += c.Length
	}
	return total
}

func (l *Lattice) collimatorInfo(i int) rec.CollimatorInfo {
	c := l.Components[i]
	return rec.CollimatorInfo{
		Name:       c.Name,
		Length:     c.Length,
		XSizeIn:    c.XGap,
		XSizeOut:   c.XGap,
		YSizeIn:    c.YGap,
		YSizeOut:   c.YGap,
		Material:   c.Material,
		ModelIndex: int32(i),
	}
}

// Model builds the model record of the line.
func (l *Lattice) Model(opts rec.ModelOptions) *rec.Model {
	m := rec.NewModel(opts)
	s := 0.0
	for i, c := range l.Components {
		a := c.aperture()
		m.AddElement(rec.Element{
			ComponentName: c.Name,
			PlacementName: fmt.Sprintf("%s_0", c.Name),
			ComponentType: c.Type,
			Length:        c.Length,
			StaPos:        column.Vec3{Z: s},
			MidPos:        column.Vec3{Z: s + c.Length/2},
			EndPos:        column.Vec3{Z: s + c.Length},
			StaS:          s,
			MidS:          s + c.Length/2,
			EndS:          s + c.Length,
			BeamPipeType:  "circular",
			BeamPipeAper:  [4]float64{a, a, 0, 0},
			Material:      c.Material,
			K1:            c.K1,
		})
		if c.Type == TypeCollimator {
			m.AddCollimator(l.collimatorInfo(i))
		}
		s += c.Length
	}
	return m
}

// Dynamic returns the samplers and collimators of the line.
func (l *Lattice) Dynamic() event.Dynamic {
	var d event.Dynamic
	for i, c := range l.Components {
		if c.Sampler != "" {
			switch l.samplerShape[i] {
			case hits.Cylinder:
				d.SamplersC = append(d.SamplersC, c.Name)
			case hits.Sphere:
				d.SamplersS = append(d.SamplersS, c.Name)
			default:
				d.Samplers = append(d.Samplers, c.Name)
			}
		}
		if c.Type == TypeCollimator {
			d.Collimators = append(d.Collimators, l.collimatorInfo(i))
		}
	}
	return d
}
