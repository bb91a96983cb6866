package rec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/internal/testutil"
)

func collHit(turn int32, primary bool, edep, weight float64) hits.CollimatorHit {
	return hits.CollimatorHit{
		Position:        column.Vec3{X: 3, Z: -300},
		Direction:       column.Vec3{Z: 1},
		TotalEnergy:     10,
		EnergyDeposited: edep,
		Weight:          weight,
		PDG:             2212,
		TrackID:         1,
		Turn:            turn,
		IsPrimary:       primary,
	}
}

func TestCollimator_FirstPrimaryHitThisTurn(t *testing.T) {
	// GIVEN hits of the primary and a secondary over two turns
	c := NewCollimator(CollimatorInfo{Name: "TCP", Length: 0.6, XSizeIn: 0.002, XSizeOut: 0.002}, CollimatorOptions{})
	c.Fill(collHit(1, true, 0.1, 1))
	c.Fill(collHit(1, true, 0.2, 1))
	c.Fill(collHit(1, false, 0.3, 2))
	c.Fill(collHit(2, true, 0.4, 1))

	// THEN only the first primary hit of each turn is flagged
	assert.Equal(t, []bool{true, false, false, true}, c.FirstPrimaryHitThisTurn)
	assert.True(t, c.PrimaryInteracted)
	assert.Equal(t, int32(4), c.N)
	assert.InDelta(t, 0.1+0.2+0.6+0.4, c.TotalEnergyDeposited, 1e-12)
}

func TestCollimator_Flush_ForgetsSeenTurns(t *testing.T) {
	c := NewCollimator(CollimatorInfo{Name: "TCP"}, CollimatorOptions{})
	c.Fill(collHit(1, true, 0.1, 1))
	c.Flush()
	c.Fill(collHit(1, true, 0.1, 1))

	assert.Equal(t, []bool{true}, c.FirstPrimaryHitThisTurn)
	assert.Equal(t, int32(1), c.N)
}

func TestCollimator_AfterLoad_RebuildsSeenTurns(t *testing.T) {
	info := CollimatorInfo{Name: "TCP"}
	src := NewCollimator(info, CollimatorOptions{})
	src.Fill(collHit(3, true, 0.1, 1))

	dst := NewCollimator(info, CollimatorOptions{})
	roundTrip(t, src, dst)
	dst.Fill(collHit(3, true, 0.1, 1))
	dst.Fill(collHit(4, true, 0.1, 1))

	assert.Equal(t, []bool{true, false, true}, dst.FirstPrimaryHitThisTurn)
}

func TestCollimator_FillFrom_CopiesState(t *testing.T) {
	info := CollimatorInfo{Name: "TCP"}
	src := NewCollimator(info, CollimatorOptions{StoreKineticEnergy: true})
	src.Fill(collHit(1, true, 0.1, 1))
	src.SetPrimaryStopped(true)

	dst := NewCollimator(info, CollimatorOptions{StoreKineticEnergy: true})
	dst.FillFrom(src)
	dst.FillExtras(DefaultParticleData())

	assert.True(t, dst.PrimaryStopped)
	assert.Equal(t, src.EnergyDeposited, dst.EnergyDeposited)
	assert.Len(t, dst.KineticEnergy, 1)

	// the copy is independent of the source
	src.Flush()
	assert.Equal(t, int32(1), dst.N)
}

func TestCollimator_Extras(t *testing.T) {
	c := NewCollimator(CollimatorInfo{Name: "TCP"}, CollimatorOptions{StoreCharge: true, StoreMass: true, StoreIon: true})
	c.Fill(collHit(1, true, 0.1, 1))
	c.FillExtras(DefaultParticleData())

	assert.Equal(t, []int32{1}, c.Charge)
	assert.InDelta(t, 0.93827208816, c.Mass[0], 1e-12)
	assert.Equal(t, []bool{false}, c.IsIon)
	assert.Empty(t, c.Rigidity)
}

func TestCollimatorInfo_ImpactParameters_GoldenDataset(t *testing.T) {
	dataset := testutil.LoadGoldenDataset(t)
	for _, tc := range dataset.ImpactParameters {
		t.Run(tc.Name, func(t *testing.T) {
			info := CollimatorInfo{
				Length:   tc.Length,
				Tilt:     tc.Tilt,
				XSizeIn:  tc.XSizeIn,
				XSizeOut: tc.XSizeOut,
				YSizeIn:  tc.YSizeIn,
				YSizeOut: tc.YSizeOut,
			}
			x, y := info.ImpactParameters(column.Vec3{X: tc.X, Y: tc.Y, Z: tc.Z})
			assert.InDelta(t, tc.ImpactX, x, 1e-12)
			assert.InDelta(t, tc.ImpactY, y, 1e-12)
		})
	}
}

func TestCollimatorInfo_BranchName(t *testing.T) {
	assert.Equal(t, "COLL_TCP1_0", CollimatorInfo{Name: "TCP1_0"}.BranchName())
}
