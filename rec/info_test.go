package rec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beamrec/beamrec/hits"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestEventInfo_EnergyTotals_SumToTotal(t *testing.T) {
	// GIVEN itemised energies of one event
	totals := EnergyTotals{
		Deposited:              3.0,
		DepositedVacuum:        0.5,
		DepositedWorld:         0.1,
		DepositedWorldContents: 0.2,
		DepositedTunnel:        0.05,
		WorldExit:              0.15,
		Killed:                 0.0,
	}

	// WHEN they are stored
	e := NewEventInfo()
	e.SetEnergies(totals)

	// THEN the reported total is their sum
	assert.InDelta(t, 4.0, e.EnergyTotal, 1e-9)
	assert.InDelta(t, 0.0, e.EnergyBalance(), 1e-12)
	assert.Equal(t, totals, e.Energies())
}

func TestEventInfo_Fill(t *testing.T) {
	e := NewEventInfo()
	e.Fill(12, hits.Info{
		Start:       testNow,
		Stop:        testNow.Add(1500 * time.Millisecond),
		DurationCPU: 1200 * time.Millisecond,
		SeedState:   "seed",
		Aborted:     true,
		NTracks:     40,
	})

	assert.Equal(t, int32(12), e.Index)
	assert.InDelta(t, 1.5, e.DurationWall, 1e-12)
	assert.InDelta(t, 1.2, e.DurationCPU, 1e-12)
	assert.True(t, e.Aborted)
	assert.Equal(t, testNow.UnixNano(), e.StartTime)

	e.Flush()
	assert.Equal(t, int32(0), e.Index)
	assert.False(t, e.Aborted)
}

func TestRunInfo_Accumulate(t *testing.T) {
	a := NewRunInfo()
	a.Fill(hits.Run{Start: testNow.Add(time.Hour), Stop: testNow.Add(2 * time.Hour), SeedState: "a",
		NEventsRequested: 10, NEventsProcessed: 10, DurationCPU: time.Second})
	b := NewRunInfo()
	b.Fill(hits.Run{Start: testNow, Stop: testNow.Add(30 * time.Minute), SeedState: "b",
		NEventsRequested: 5, NEventsProcessed: 4, NEventsAborted: 1, DurationCPU: 2 * time.Second})

	total := NewRunInfo()
	total.Accumulate(a)
	total.Accumulate(b)

	assert.True(t, testNow.Equal(total.Start()))
	assert.Equal(t, testNow.Add(2*time.Hour).UnixNano(), total.StopTime)
	assert.Equal(t, int64(15), total.NEventsRequested)
	assert.Equal(t, int64(14), total.NEventsProcessed)
	assert.Equal(t, int64(1), total.NEventsAborted)
	assert.InDelta(t, 3.0, total.DurationCPU, 1e-12)
	assert.Equal(t, "a", total.SeedStateAtStart)
}

func TestRunInfo_FillFrom(t *testing.T) {
	a := NewRunInfo()
	a.Fill(hits.Run{Start: testNow, Stop: testNow.Add(time.Minute), NEventsProcessed: 3})
	b := NewRunInfo()
	b.FillFrom(a)

	assert.Equal(t, a.StartTime, b.StartTime)
	assert.Equal(t, int64(3), b.NEventsProcessed)
}
