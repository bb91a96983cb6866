package rec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
)

func TestIsScatteringPoint(t *testing.T) {
	tests := []struct {
		name     string
		postType int32
		edep     float64
		want     bool
	}{
		{"transportation without deposit", hits.ProcessTransportation, 0, false},
		{"transportation at threshold", hits.ProcessTransportation, ScatteringEnergyThreshold, false},
		{"transportation with deposit", hits.ProcessTransportation, 1e-6, true},
		{"hadronic", hits.ProcessHadronic, 0, true},
		{"electromagnetic", hits.ProcessElectromagnetic, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsScatteringPoint(tt.postType, tt.edep))
		})
	}
}

// shower returns a primary (1) with a hadronic daughter (2) created at the
// primary's second step and an electromagnetic granddaughter (3).
func shower() *Trajectory {
	tr := NewTrajectory(TrajectoryOptions{StoreKineticEnergy: true})
	tr.Fill(hits.Track{PDG: 2212, TrackID: 1, Points: []hits.TrajectoryPoint{
		{PostProcessType: hits.ProcessTransportation, S: 1000},
		{PostProcessType: hits.ProcessHadronic, PostProcessSubType: 121, S: 2000, KineticEnergy: 9},
	}})
	tr.Fill(hits.Track{PDG: 211, TrackID: 2, ParentID: 1, ParentStepIndex: 1, Depth: 1, Points: []hits.TrajectoryPoint{
		{PostProcessType: hits.ProcessElectromagnetic, PostProcessSubType: 2},
	}})
	tr.Fill(hits.Track{PDG: 11, TrackID: 3, ParentID: 2, ParentStepIndex: 0, Depth: 2, Points: []hits.TrajectoryPoint{
		{PostProcessType: hits.ProcessTransportation},
	}})
	return tr
}

func TestTrajectory_FirstScatteringPoint(t *testing.T) {
	tr := shower()

	p, ok := tr.FirstScatteringPoint(1)
	require.True(t, ok)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, 2.0, p.S)

	_, ok = tr.FirstScatteringPoint(3)
	assert.False(t, ok)
	_, ok = tr.FirstScatteringPoint(42)
	assert.False(t, ok)
}

func TestTrajectory_ProcessHistory(t *testing.T) {
	tr := shower()

	got := tr.ProcessHistory(3)
	want := []Creation{
		{TrackID: 2, ProcessType: hits.ProcessHadronic, ProcessSubType: 121},
		{TrackID: 3, ProcessType: hits.ProcessElectromagnetic, ProcessSubType: 2},
	}
	assert.Equal(t, want, got)
	assert.Empty(t, tr.ProcessHistory(1))
}

func TestTrajectory_ParentIsPrimary(t *testing.T) {
	tr := shower()
	assert.True(t, tr.ParentIsPrimary(2))
	assert.False(t, tr.ParentIsPrimary(3))
	assert.False(t, tr.ParentIsPrimary(1))
}

func TestTrajectory_RoundTrip_RebuildsIndex(t *testing.T) {
	src := shower()
	dst := NewTrajectory(TrajectoryOptionsFromColumns(column.Descs(src.Fields())))
	roundTrip(t, src, dst)

	row, ok := dst.Row(3)
	require.True(t, ok)
	assert.Equal(t, 2, row)
	assert.Equal(t, int32(3), dst.N)
	assert.Equal(t, src.KineticEnergy, dst.KineticEnergy)
	p, ok := dst.Point(1, 1)
	require.True(t, ok)
	assert.Equal(t, hits.ProcessHadronic, p.PostProcessType)
}

func TestTrajectory_Flush_ClearsIndex(t *testing.T) {
	tr := shower()
	tr.Flush()

	_, ok := tr.Row(1)
	assert.False(t, ok)
	assert.Equal(t, int32(0), tr.N)
}
