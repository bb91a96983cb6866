package rec

import (
	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

// Element is one placed beam line element. Lengths are in metres.
type Element struct {
	ComponentName string      `yaml:"name"`
	PlacementName string      `yaml:"placement"`
	ComponentType string      `yaml:"type"`
	Length        float64     `yaml:"length"`
	StaPos        column.Vec3 `yaml:"-"`
	MidPos        column.Vec3 `yaml:"-"`
	EndPos        column.Vec3 `yaml:"-"`
	StaS          float64     `yaml:"-"`
	MidS          float64     `yaml:"-"`
	EndS          float64     `yaml:"-"`
	Tilt          float64     `yaml:"tilt"`
	OffsetX       float64     `yaml:"offset_x"`
	OffsetY       float64     `yaml:"offset_y"`
	BeamPipeType  string      `yaml:"beam_pipe_type"`
	BeamPipeAper  [4]float64  `yaml:"beam_pipe_aper"`
	Material      string      `yaml:"material"`
	K1            float64     `yaml:"k1"`
	K2            float64     `yaml:"k2"`
	BField        float64     `yaml:"b_field"`
	EField        float64     `yaml:"e_field"`
}

// ModelOptions selects the model level info column groups. Both were added
// in data version 4.
type ModelOptions struct {
	StoreCollimatorInfo bool
	StoreCavityInfo     bool
}

func ModelOptionsFromColumns(descs []column.Desc) ModelOptions {
	return ModelOptions{
		StoreCollimatorInfo: column.Has(descs, "collimatorInfoName"),
		StoreCavityInfo:     column.Has(descs, "cavityInfoName"),
	}
}

// Model is the beam line description written once per file.
type Model struct {
	fieldSet
	opts ModelOptions

	ComponentName []string
	PlacementName []string
	ComponentType []string
	Length        []float64
	StaPos        []column.Vec3
	MidPos        []column.Vec3
	EndPos        []column.Vec3
	StaS          []float64
	MidS          []float64
	EndS          []float64
	Tilt          []float64
	OffsetX       []float64
	OffsetY       []float64
	BeamPipeType  []string
	BeamPipeAper1 []float64
	BeamPipeAper2 []float64
	BeamPipeAper3 []float64
	BeamPipeAper4 []float64
	Material      []string
	K1            []float64
	K2            []float64
	BField        []float64
	EField        []float64

	SamplerNames  []string
	SamplerCNames []string
	SamplerSNames []string

	CollimatorIndices     []int32
	CollimatorBranchNames []string

	CollimatorInfoName       []string
	CollimatorInfoLength     []float64
	CollimatorInfoTilt       []float64
	CollimatorInfoXSizeIn    []float64
	CollimatorInfoXSizeOut   []float64
	CollimatorInfoYSizeIn    []float64
	CollimatorInfoYSizeOut   []float64
	CollimatorInfoMaterial   []string
	CollimatorInfoModelIndex []int32

	CavityInfoName       []string
	CavityInfoLength     []float64
	CavityInfoFrequency  []float64
	CavityInfoPhase      []float64
	CavityInfoGradient   []float64
	CavityInfoModelIndex []int32
}

func NewModel(opts ModelOptions) *Model {
	m := &Model{opts: opts}
	m.bind(
		column.Strings("componentName", &m.ComponentName),
		column.Strings("placementName", &m.PlacementName),
		column.Strings("componentType", &m.ComponentType),
		column.Float64s("length", &m.Length),
		column.Vectors("staPos", &m.StaPos),
		column.Vectors("midPos", &m.MidPos),
		column.Vectors("endPos", &m.EndPos),
		column.Float64s("staS", &m.StaS),
		column.Float64s("midS", &m.MidS),
		column.Float64s("endS", &m.EndS),
		column.Float64s("tilt", &m.Tilt),
		column.Float64s("offsetX", &m.OffsetX),
		column.Float64s("offsetY", &m.OffsetY),
		column.Strings("beamPipeType", &m.BeamPipeType),
		column.Float64s("beamPipeAper1", &m.BeamPipeAper1),
		column.Float64s("beamPipeAper2", &m.BeamPipeAper2),
		column.Float64s("beamPipeAper3", &m.BeamPipeAper3),
		column.Float64s("beamPipeAper4", &m.BeamPipeAper4),
		column.Strings("material", &m.Material),
		column.Float64s("k1", &m.K1),
		column.Float64s("k2", &m.K2),
		column.Float64s("bField", &m.BField),
		column.Float64s("eField", &m.EField),
		column.Strings("samplerNamesUnique", &m.SamplerNames),
		column.Strings("samplerCNamesUnique", &m.SamplerCNames),
		column.Strings("samplerSNamesUnique", &m.SamplerSNames),
		column.Int32s("collimatorIndices", &m.CollimatorIndices),
		column.Strings("collimatorBranchNamesUnique", &m.CollimatorBranchNames),
	)
	if opts.StoreCollimatorInfo {
		m.bind(
			column.Strings("collimatorInfoName", &m.CollimatorInfoName),
			column.Float64s("collimatorInfoLength", &m.CollimatorInfoLength),
			column.Float64s("collimatorInfoTilt", &m.CollimatorInfoTilt),
			column.Float64s("collimatorInfoXSizeIn", &m.CollimatorInfoXSizeIn),
			column.Float64s("collimatorInfoXSizeOut", &m.CollimatorInfoXSizeOut),
			column.Float64s("collimatorInfoYSizeIn", &m.CollimatorInfoYSizeIn),
			column.Float64s("collimatorInfoYSizeOut", &m.CollimatorInfoYSizeOut),
			column.Strings("collimatorInfoMaterial", &m.CollimatorInfoMaterial),
			column.Int32s("collimatorInfoModelIndex", &m.CollimatorInfoModelIndex),
		)
	}
	if opts.StoreCavityInfo {
		m.bind(
			column.Strings("cavityInfoName", &m.CavityInfoName),
			column.Float64s("cavityInfoLength", &m.CavityInfoLength),
			column.Float64s("cavityInfoFrequency", &m.CavityInfoFrequency),
			column.Float64s("cavityInfoPhase", &m.CavityInfoPhase),
			column.Float64s("cavityInfoGradient", &m.CavityInfoGradient),
			column.Int32s("cavityInfoModelIndex", &m.CavityInfoModelIndex),
		)
	}
	return m
}

func (m *Model) Kind() string          { return KindModel }
func (m *Model) Version() int          { return ModelVersion }
func (m *Model) Options() ModelOptions { return m.opts }
func (m *Model) Flush()                { column.ResetAll(m.fields) }

// Len returns the number of elements.
func (m *Model) Len() int { return len(m.ComponentName) }

// AddElement appends an element.
func (m *Model) AddElement(e Element) {
	m.ComponentName = append(m.ComponentName, e.ComponentName)
	m.PlacementName = append(m.PlacementName, e.PlacementName)
	m.ComponentType = append(m.ComponentType, e.ComponentType)
	m.Length = append(m.Length, e.Length)
	m.StaPos = append(m.StaPos, e.StaPos)
	m.MidPos = append(m.MidPos, e.MidPos)
	m.EndPos = append(m.EndPos, e.EndPos)
	m.StaS = append(m.StaS, e.StaS)
	m.MidS = append(m.MidS, e.MidS)
	m.EndS = append(m.EndS, e.EndS)
	m.Tilt = append(m.Tilt, e.Tilt)
	m.OffsetX = append(m.OffsetX, e.OffsetX)
	m.OffsetY = append(m.OffsetY, e.OffsetY)
	m.BeamPipeType = append(m.BeamPipeType, e.BeamPipeType)
	m.BeamPipeAper1 = append(m.BeamPipeAper1, e.BeamPipeAper[0])
	m.BeamPipeAper2 = append(m.BeamPipeAper2, e.BeamPipeAper[1])
	m.BeamPipeAper3 = append(m.BeamPipeAper3, e.BeamPipeAper[2])
	m.BeamPipeAper4 = append(m.BeamPipeAper4, e.BeamPipeAper[3])
	m.Material = append(m.Material, e.Material)
	m.K1 = append(m.K1, e.K1)
	m.K2 = append(m.K2, e.K2)
	m.BField = append(m.BField, e.BField)
	m.EField = append(m.EField, e.EField)
}

// Element returns element i.
func (m *Model) Element(i int) Element {
	return Element{
		ComponentName: m.ComponentName[i],
		PlacementName: m.PlacementName[i],
		ComponentType: m.ComponentType[i],
		Length:        m.Length[i],
		StaPos:        m.StaPos[i],
		MidPos:        m.MidPos[i],
		EndPos:        m.EndPos[i],
		StaS:          m.StaS[i],
		MidS:          m.MidS[i],
		EndS:          m.EndS[i],
		Tilt:          m.Tilt[i],
		OffsetX:       m.OffsetX[i],
		OffsetY:       m.OffsetY[i],
		BeamPipeType:  m.BeamPipeType[i],
		BeamPipeAper:  [4]float64{m.BeamPipeAper1[i], m.BeamPipeAper2[i], m.BeamPipeAper3[i], m.BeamPipeAper4[i]},
		Material:      m.Material[i],
		K1:            m.K1[i],
		K2:            m.K2[i],
		BField:        m.BField[i],
		EField:        m.EField[i],
	}
}

// SetSamplerNames records the sampler names of one shape.
func (m *Model) SetSamplerNames(shape hits.Shape, names []string) {
	switch shape {
	case hits.Cylinder:
		m.SamplerCNames = append(m.SamplerCNames[:0], names...)
	case hits.Sphere:
		m.SamplerSNames = append(m.SamplerSNames[:0], names...)
	default:
		m.SamplerNames = append(m.SamplerNames[:0], names...)
	}
}

// AddCollimator records a collimator. Its info columns are only filled when
// the model stores collimator info.
func (m *Model) AddCollimator(c CollimatorInfo) {
	m.CollimatorIndices = append(m.CollimatorIndices, c.ModelIndex)
	m.CollimatorBranchNames = append(m.CollimatorBranchNames, c.BranchName())
	if !m.opts.StoreCollimatorInfo {
		return
	}
	m.CollimatorInfoName = append(m.CollimatorInfoName, c.Name)
	m.CollimatorInfoLength = append(m.CollimatorInfoLength, c.Length)
	m.CollimatorInfoTilt = append(m.CollimatorInfoTilt, c.Tilt)
	m.CollimatorInfoXSizeIn = append(m.CollimatorInfoXSizeIn, c.XSizeIn)
	m.CollimatorInfoXSizeOut = append(m.CollimatorInfoXSizeOut, c.XSizeOut)
	m.CollimatorInfoYSizeIn = append(m.CollimatorInfoYSizeIn, c.YSizeIn)
	m.CollimatorInfoYSizeOut = append(m.CollimatorInfoYSizeOut, c.YSizeOut)
	m.CollimatorInfoMaterial = append(m.CollimatorInfoMaterial, c.Material)
	m.CollimatorInfoModelIndex = append(m.CollimatorInfoModelIndex, c.ModelIndex)
}

// CollimatorInfos returns the stored collimator info, if any.
func (m *Model) CollimatorInfos() []CollimatorInfo {
	out := make([]CollimatorInfo, len(m.CollimatorInfoName))
	for i := range out {
		out[i] = CollimatorInfo{
			Name:       m.CollimatorInfoName[i],
			Length:     m.CollimatorInfoLength[i],
			Tilt:       m.CollimatorInfoTilt[i],
			XSizeIn:    m.CollimatorInfoXSizeIn[i],
			XSizeOut:   m.CollimatorInfoXSizeOut[i],
			YSizeIn:    m.CollimatorInfoYSizeIn[i],
			YSizeOut:   m.CollimatorInfoYSizeOut[i],
			Material:   m.CollimatorInfoMaterial[i],
			ModelIndex: m.CollimatorInfoModelIndex[i],
		}
	}
	return out
}

// AddCavity records a cavity when the model stores cavity info.
func (m *Model) AddCavity(c CavityInfo) {
	if !m.opts.StoreCavityInfo {
		return
	}
	m.CavityInfoName = append(m.CavityInfoName, c.Name)
	m.CavityInfoLength = append(m.CavityInfoLength, c.Length)
	m.CavityInfoFrequency = append(m.CavityInfoFrequency, c.Frequency)
	m.CavityInfoPhase = append(m.CavityInfoPhase, c.Phase)
	m.CavityInfoGradient = append(m.CavityInfoGradient, c.Gradient)
	m.CavityInfoModelIndex = append(m.CavityInfoModelIndex, c.ModelIndex)
}

// IndexOf returns the element with the given placement or component name.
func (m *Model) IndexOf(name string) int {
	for i := range m.PlacementName {
		if m.PlacementName[i] == name || m.ComponentName[i] == name {
			return i
		}
	}
	return -1
}

// ElementEdges returns the S boundaries of the elements, for histograms
// binned per element.
func (m *Model) ElementEdges() []float64 {
	if len(m.StaS) == 0 {
		return nil
	}
	edges := make([]float64, 0, len(m.StaS)+1)
	edges = append(edges, m.StaS...)
	edges = append(edges, m.EndS[len(m.EndS)-1])
	return edges
}

// TotalLength returns the S position of the end of the beam line.
func (m *Model) TotalLength() float64 {
	if len(m.EndS) == 0 {
		return 0
	}
	return m.EndS[len(m.EndS)-1]
}

func (m *Model) FillFrom(other *Model) { column.CopyFields(m.fields, other.fields) }

// BeamDefinition describes the beam of a run.
type BeamDefinition struct {
	Particle   string  `yaml:"particle"`
	BeamEnergy float64 `yaml:"energy"`
	DistrType  string  `yaml:"distr_type"`
	X0         float64 `yaml:"x0"`
	Y0         float64 `yaml:"y0"`
	Z0         float64 `yaml:"z0"`
	Xp0        float64 `yaml:"xp0"`
	Yp0        float64 `yaml:"yp0"`
	T0         float64 `yaml:"t0"`
	SigmaE     float64 `yaml:"sigma_e"`
	EmittanceX float64 `yaml:"emittance_x"`
	EmittanceY float64 `yaml:"emittance_y"`
	NGenerate  int64   `yaml:"n_generate"`
	DistrFile  string  `yaml:"distr_file"`
}

// Beam is the persisted beam definition.
type Beam struct {
	fieldSet
	BeamDefinition
}

func NewBeam() *Beam {
	b := &Beam{}
	d := &b.BeamDefinition
	b.bind(
		column.String("particle", &d.Particle),
		column.Float64("beamEnergy", &d.BeamEnergy),
		column.String("distrType", &d.DistrType),
		column.Float64("X0", &d.X0),
		column.Float64("Y0", &d.Y0),
		column.Float64("Z0", &d.Z0),
		column.Float64("Xp0", &d.Xp0),
		column.Float64("Yp0", &d.Yp0),
		column.Float64("T0", &d.T0),
		column.Float64("sigmaE", &d.SigmaE),
		column.Float64("emitx", &d.EmittanceX),
		column.Float64("emity", &d.EmittanceY),
		column.Int64("nGenerate", &d.NGenerate),
		column.String("distrFile", &d.DistrFile),
	)
	return b
}

func (b *Beam) Kind() string { return KindBeam }
func (b *Beam) Version() int { return BeamVersion }
func (b *Beam) Flush()       { column.ResetAll(b.fields) }

// Fill replaces the beam definition.
func (b *Beam) Fill(d BeamDefinition) { b.BeamDefinition = d }

func (b *Beam) FillFrom(other *Beam) { column.CopyFields(b.fields, other.fields) }

// Options holds the resolved run configuration as ordered key/value pairs.
type Options struct {
	fieldSet

	Keys   []string
	Values []string
}

func NewOptions() *Options {
	o := &Options{}
	o.bind(
		column.Strings("keys", &o.Keys),
		column.Strings("values", &o.Values),
	)
	return o
}

func (o *Options) Kind() string { return KindOptions }
func (o *Options) Version() int { return OptionsVersion }
func (o *Options) Flush()       { column.ResetAll(o.fields) }

// Set adds or replaces a key, keeping first insertion order.
func (o *Options) Set(key, value string) {
	for i, k := range o.Keys {
		if k == key {
			o.Values[i] = value
			return
		}
	}
	o.Keys = append(o.Keys, key)
	o.Values = append(o.Values, value)
}

// Get returns the value of a key.
func (o *Options) Get(key string) (string, bool) {
	for i, k := range o.Keys {
		if k == key {
			return o.Values[i], true
		}
	}
	return "", false
}

func (o *Options) FillFrom(other *Options) { column.CopyFields(o.fields, other.fields) }
