package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

func TestDefaultLattice_ResolvesIndices(t *testing.T) {
	l := DefaultLattice()

	d := l.Dynamic()
	assert.Equal(t, []string{"d1", "qf1", "tcp", "end"}, d.Samplers)
	assert.Equal(t, []string{"d3"}, d.SamplersC)
	assert.Equal(t, []string{"d4"}, d.SamplersS)
	require.Len(t, d.Collimators, 2)
	assert.Equal(t, "tcs", d.Collimators[1].Name)
	assert.Equal(t, int32(6), d.Collimators[1].ModelIndex)

	// tcp is the third plane sampler and the first collimator
	assert.Equal(t, 2, l.samplerIndex[3])
	assert.Equal(t, hits.Plane, l.samplerShape[3])
	assert.Equal(t, 0, l.collimatorIndex[3])
	assert.Equal(t, 0, l.samplerIndex[7])
	assert.Equal(t, hits.Sphere, l.samplerShape[7])
	assert.Equal(t, -1, l.samplerIndex[2])
	assert.InDelta(t, 11.6, l.TotalLength(), 1e-12)
}

func TestLattice_Validate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		wantErr    string
	}{
		{"empty", nil, "no components"},
		{"unnamed", []Component{{Type: TypeDrift}}, "no name"},
		{"duplicate", []Component{{Name: "a", Type: TypeDrift}, {Name: "a", Type: TypeDrift}}, "duplicate"},
		{"unknown type", []Component{{Name: "a", Type: "sbend"}}, "unknown type"},
		{"negative length", []Component{{Name: "a", Type: TypeDrift, Length: -1}}, "negative length"},
		{"closed jaws", []Component{{Name: "a", Type: TypeCollimator, Length: 1}}, "jaw gaps"},
		{"bad shape", []Component{{Name: "a", Type: TypeDrift, Sampler: "cube"}}, "sampler shape"},
		{"protected sampler name", []Component{{Name: "Eloss", Type: TypeDrift, Sampler: "plane"}}, "Eloss"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := &Lattice{Components: tc.components}
			err := l.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLattice_Model(t *testing.T) {
	l := DefaultLattice()
	m := l.Model(rec.ModelOptions{StoreCollimatorInfo: true})

	require.Len(t, m.ComponentName, len(l.Components))
	assert.Equal(t, "tcp", m.ComponentName[3])
	assert.InDelta(t, 4.0, m.StaS[3], 1e-12)
	assert.InDelta(t, 4.6, m.EndS[3], 1e-12)
	assert.Equal(t, []string{"tcp", "tcs"}, m.CollimatorInfoName)
	assert.Equal(t, []string{"COLL_tcp", "COLL_tcs"}, m.CollimatorBranchNames)
}
