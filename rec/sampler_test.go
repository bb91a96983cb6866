package rec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

func planeHit(pdg int32, energy float64, x, y float64) hits.SamplerHit {
	return hits.SamplerHit{
		Shape:       hits.Plane,
		Position:    column.Vec3{X: x, Y: y},
		Direction:   column.Vec3{Z: 1},
		S:           12000,
		TotalEnergy: energy,
		Weight:      1,
		PDG:         pdg,
		TrackID:     1,
		Turn:        1,
		ModelID:     7,
	}
}

func TestSampler_Fill_AppendsOneRowInMetres(t *testing.T) {
	s := NewSampler(hits.Plane, SamplerOptions{})
	s.Fill(planeHit(2212, 10, 1.5, -2))
	s.Fill(planeHit(11, 1, 0, 0))

	assert.Equal(t, int32(2), s.N)
	assert.Equal(t, 12.0, s.S)
	assert.Equal(t, int32(7), s.ModelID)
	assert.Equal(t, []float64{0.0015, 0}, s.X)
	assert.Equal(t, []float64{-0.002, 0}, s.Y)
	assert.Equal(t, []int32{2212, 11}, s.PartID)
	assert.Empty(t, s.Mass)
}

func TestSampler_Flush_ClearsRows(t *testing.T) {
	s := NewSampler(hits.Plane, SamplerOptions{StoreCharge: true})
	s.Fill(planeHit(2212, 10, 0, 0))
	s.FillExtras(DefaultParticleData())

	s.Flush()
	s.Flush()

	assert.Equal(t, int32(0), s.N)
	assert.Empty(t, s.Energy)
	assert.Empty(t, s.Charge)
	assert.Equal(t, 0.0, s.S)
}

func TestSampler_ShapeColumns(t *testing.T) {
	tests := []struct {
		shape hits.Shape
		kind  string
		has   []string
		lacks []string
	}{
		{hits.Plane, KindSampler, []string{"x", "y", "z", "xp", "yp"}, []string{"r", "theta"}},
		{hits.Cylinder, KindSamplerC, []string{"z", "r", "phi", "rp", "phip"}, []string{"x", "theta"}},
		{hits.Sphere, KindSamplerS, []string{"r", "theta", "phi", "rp", "thetap", "phip"}, []string{"x", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.shape.String(), func(t *testing.T) {
			s := NewSampler(tt.shape, SamplerOptions{})
			descs := column.Descs(s.Fields())
			assert.Equal(t, tt.kind, s.Kind())
			for _, name := range tt.has {
				assert.True(t, column.Has(descs, name), name)
			}
			for _, name := range tt.lacks {
				assert.False(t, column.Has(descs, name), name)
			}
			shape, ok := ShapeOfKind(tt.kind)
			assert.True(t, ok)
			assert.Equal(t, tt.shape, shape)
		})
	}
}

func TestSampler_Cylindrical_ProjectsDirection(t *testing.T) {
	s := NewSampler(hits.Cylinder, SamplerOptions{})
	// radially outward at (3, 4) mm
	s.Fill(hits.SamplerHit{Position: column.Vec3{X: 3, Y: 4, Z: 10}, Direction: column.Vec3{X: 0.6, Y: 0.8}})

	assert.InDelta(t, 0.005, s.R[0], 1e-15)
	assert.InDelta(t, math.Atan2(4, 3), s.Phi[0], 1e-15)
	assert.InDelta(t, 1.0, s.RP[0], 1e-12)
	assert.InDelta(t, 0.0, s.PhiP[0], 1e-12)
	assert.InDelta(t, 0.01, s.Z[0], 1e-15)
}

func TestSampler_Spherical_ProjectsDirection(t *testing.T) {
	s := NewSampler(hits.Sphere, SamplerOptions{})
	// on the pole moving along +z
	s.Fill(hits.SamplerHit{Position: column.Vec3{Z: 5}, Direction: column.Vec3{Z: 1}})

	assert.InDelta(t, 0.005, s.R[0], 1e-15)
	assert.InDelta(t, 0.0, s.Theta[0], 1e-15)
	assert.InDelta(t, 1.0, s.RP[0], 1e-12)
	assert.InDelta(t, 0.0, s.ThetaP[0], 1e-12)
}

func TestSampler_FillExtras_IsIncremental(t *testing.T) {
	opts := SamplerOptions{StoreMass: true, StoreCharge: true, StoreKineticEnergy: true, StoreRigidity: true, StoreIon: true}
	s := NewSampler(hits.Plane, opts)
	table := DefaultParticleData()

	s.Fill(planeHit(2212, 10, 0, 0))
	s.FillExtras(table)
	s.Fill(planeHit(1000060120, 200, 0, 0))
	s.FillExtras(table)
	s.FillExtras(table)

	require.Len(t, s.Mass, 2)
	assert.Equal(t, []int32{1, 6}, s.Charge)
	assert.InDelta(t, 10-table.Mass(2212), s.KineticEnergy[0], 1e-12)
	assert.InDelta(t, table.Rigidity(2212, 10), s.Rigidity[0], 1e-12)
	assert.Equal(t, []bool{false, true}, s.IsIon)
	assert.Equal(t, []int32{0, 12}, s.IonA)
	assert.Equal(t, []int32{0, 6}, s.IonZ)
	assert.Equal(t, []int32{0, 0}, s.NElectrons)
}

func TestSampler_FillExtras_NoTable_Zeros(t *testing.T) {
	s := NewSampler(hits.Plane, SamplerOptions{StoreCharge: true, StoreRigidity: true})
	s.Fill(planeHit(2212, 10, 0, 0))
	s.FillExtras(nil)

	assert.Equal(t, []int32{0}, s.Charge)
	assert.Equal(t, []float64{0}, s.Rigidity)
}

func TestSampler_RoundTrip_RecoversOptions(t *testing.T) {
	opts := SamplerOptions{StoreCharge: true, StoreIon: true}
	src := NewSampler(hits.Plane, opts)
	src.Fill(planeHit(2212, 10, 1, 2))
	src.FillExtras(DefaultParticleData())

	stored := column.Descs(src.Fields())
	dst := NewSampler(hits.Plane, SamplerOptionsFromColumns(stored))
	roundTrip(t, src, dst)

	assert.Equal(t, opts, dst.Options())
	assert.Equal(t, src.X, dst.X)
	assert.Equal(t, src.Charge, dst.Charge)
	assert.Equal(t, src.S, dst.S)

	// rows decoded from storage are complete
	dst.FillExtras(DefaultParticleData())
	assert.Len(t, dst.Charge, 1)
}

func TestSampler_OlderLayout_MissingColumnsStayEmpty(t *testing.T) {
	// GIVEN an entry written without derived columns
	src := NewSampler(hits.Plane, SamplerOptions{})
	src.Fill(planeHit(2212, 10, 1, 2))

	// WHEN read by a sampler that declares them
	dst := NewSampler(hits.Plane, SamplerOptions{StoreMass: true})
	l := roundTrip(t, src, dst)

	// THEN the shared columns load and the new ones are empty
	assert.Equal(t, src.Energy, dst.Energy)
	assert.Empty(t, dst.Mass)
	assert.Contains(t, l.Missing(), "mass")
}
