package sim

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/load"
	"github.com/beamrec/beamrec/rec"
)

func testRunConfig(t *testing.T, events int64) RunConfig {
	t.Helper()
	c := DefaultRunConfig()
	c.Output.FileName = filepath.Join(t.TempDir(), "sim.bdr")
	c.Output.BasketSize = 1024
	c.Events = events
	c.Options = map[string]string{"physicsList": "toy"}
	return c
}

func TestRun_WritesReadableFile(t *testing.T) {
	// GIVEN a small run
	c := testRunConfig(t, 25)

	// WHEN it is simulated
	paths, err := Run(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, []string{c.Output.FileName}, paths)

	// THEN the file holds every event and the run bookkeeping
	l, err := load.Open(paths[0], load.Config{AllBranchesOn: true})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, int64(25), l.NumberOfEvents())
	assert.Equal(t, rec.FileTypeSimulation, l.Header().FileType)
	assert.Equal(t, int64(25), l.RunInfo().NEventsProcessed)
	assert.Equal(t, int64(25), l.Beam().NGenerate)
	v, ok := l.Options().Get("physicsList")
	assert.True(t, ok)
	assert.Equal(t, "toy", v)
	assert.Equal(t, []string{"d1", "qf1", "tcp", "end"}, l.SamplerNames(0))
	assert.ElementsMatch(t, []string{"tcp", "tcs"}, l.CollimatorNames())
	for i := int64(0); i < l.NumberOfEvents(); i++ {
		require.NoError(t, l.GetEntry(i))
		assert.Equal(t, int32(i), l.Summary.Index)
	}
}

func TestRun_Rollover(t *testing.T) {
	c := testRunConfig(t, 7)
	c.Output.MaxEventsPerFile = 3

	paths, err := Run(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testRunConfig(t, 5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RunConfig)
	}{
		{"no events", func(c *RunConfig) { c.Events = 0 }},
		{"no file name", func(c *RunConfig) { c.Output.FileName = "" }},
		{"empty lattice", func(c *RunConfig) { c.Lattice = Lattice{} }},
		{"bad generator", func(c *RunConfig) { c.Generator.AbortProbability = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultRunConfig()
			tc.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}
