package load

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/output"
	"github.com/beamrec/beamrec/rec"
	"github.com/beamrec/beamrec/store"
)

func testModel() *rec.Model {
	m := rec.NewModel(rec.ModelOptions{})
	m.AddElement(rec.Element{ComponentName: "d1", PlacementName: "d1_0", Length: 1, StaS: 0, MidS: 0.5, EndS: 1})
	m.AddElement(rec.Element{ComponentName: "q1", PlacementName: "q1_0", Length: 2, StaS: 1, MidS: 2, EndS: 3})
	return m
}

var testDynamic = event.Dynamic{
	Samplers:    []string{"s1", "s2"},
	SamplersC:   []string{"c1"},
	SamplersS:   []string{"sp1"},
	Collimators: []rec.CollimatorInfo{{Name: "TCP1", Length: 1, XSizeIn: 0.002, XSizeOut: 0.002, YSizeIn: 0.01, YSizeOut: 0.01, Material: "C"}},
}

// writeFile writes n events with i+1 hits on s1 and one loss of energy i+1
// in event i.
func writeFile(t *testing.T, version compat.DataVersion, n int32) string {
	t.Helper()
	cfg := output.DefaultConfig()
	cfg.FileName = filepath.Join(t.TempDir(), "run.bdr")
	cfg.DataVersion = version
	cfg.BasketSize = 128

	reg := event.New(rec.DefaultParticleData())
	reg.InitialiseFixed(cfg.Store)
	require.NoError(t, reg.InitialiseDynamic(testDynamic))
	require.NoError(t, reg.CreateHistograms(testModel(), cfg.Version()))
	w, err := output.New(cfg, reg, nil)
	require.NoError(t, err)

	require.NoError(t, w.NewFile())
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteParticleData(rec.DefaultParticleData()))
	require.NoError(t, w.WriteBeam(rec.BeamDefinition{Particle: "proton", BeamEnergy: 6500}))
	opts := rec.NewOptions()
	opts.Set("ngenerate", "3")
	require.NoError(t, w.WriteOptions(opts))
	require.NoError(t, w.WriteModel(testModel()))
	for i := int32(0); i < n; i++ {
		evt := &hits.Event{
			Index:           i,
			Primary:         &hits.SamplerHit{TotalEnergy: 6500, Weight: 1, PDG: 2212, TrackID: 1},
			Eloss:           []hits.EnergyDeposit{{Energy: float64(i + 1), S: 500, Weight: 1}},
			PrimaryFirstHit: &hits.EnergyDeposit{Energy: 1, S: 500, Weight: 1},
			Collimators:     []hits.CollimatorHit{{Collimator: 0, TotalEnergy: 6500, Weight: 1, PDG: 2212, TrackID: 1, IsPrimary: true}},
		}
		for k := int32(0); k <= i; k++ {
			evt.Samplers = append(evt.Samplers, hits.SamplerHit{Sampler: 0, Shape: hits.Plane, TotalEnergy: 100, Weight: 1, PDG: 11, TrackID: k + 2})
		}
		require.NoError(t, w.FillEvent(evt))
		require.NoError(t, w.WriteFileEventLevel())
		require.NoError(t, w.ClearStructuresEventLevel())
	}
	require.NoError(t, w.FillRun(hits.Run{NEventsRequested: int64(n), NEventsProcessed: int64(n)}))
	require.NoError(t, w.WriteFileRunLevel())
	return w.Paths()[0]
}

func open(t *testing.T, path string, cfg Config) *Loader {
	t.Helper()
	l, err := Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_DefaultBindsAlwaysOnSet(t *testing.T) {
	// GIVEN a file with every default branch
	path := writeFile(t, compat.Current, 3)

	// WHEN it is opened without a selection
	l := open(t, path, Config{})

	// THEN only the always-on branches are bound
	assert.Equal(t, []string{"Primary", "PrimaryFirstHit", "PrimaryLastHit", "Summary"}, l.BoundBranches())
	assert.NotNil(t, l.Primary)
	assert.NotNil(t, l.Summary)
	assert.Nil(t, l.Eloss)
	assert.Nil(t, l.Histos)
	_, ok := l.Sampler("s1")
	assert.False(t, ok)

	require.NoError(t, l.GetEntry(1))
	assert.Equal(t, int32(1), l.Summary.Index)
	assert.Equal(t, int32(1), l.PrimaryFirstHit.N)
}

func TestOpen_UnboundBranchesAreNotRead(t *testing.T) {
	path := writeFile(t, compat.Current, 20)
	few := open(t, path, Config{})
	all := open(t, path, Config{AllBranchesOn: true})
	before := few.BytesRead()
	beforeAll := all.BytesRead()

	require.NoError(t, few.GetEntry(10))
	require.NoError(t, all.GetEntry(10))

	assert.Less(t, few.BytesRead()-before, all.BytesRead()-beforeAll)
}

func TestOpen_AllBranchesOn_DiscoversDynamic(t *testing.T) {
	l := open(t, writeFile(t, compat.Current, 3), Config{AllBranchesOn: true})

	assert.Equal(t, []string{"s1", "s2"}, l.SamplerNames(hits.Plane))
	assert.Equal(t, []string{"c1"}, l.SamplerNames(hits.Cylinder))
	assert.Equal(t, []string{"sp1"}, l.SamplerNames(hits.Sphere))
	assert.Equal(t, []string{"TCP1"}, l.CollimatorNames())
	assert.NotNil(t, l.Eloss)
	assert.NotNil(t, l.Histos)

	require.NoError(t, l.GetEntry(2))
	s1, ok := l.Sampler("s1")
	require.True(t, ok)
	assert.Equal(t, int32(3), s1.N)
	s1dot, ok := l.Sampler("s1.")
	require.True(t, ok)
	assert.Same(t, s1, s1dot)

	coll, ok := l.Collimator("TCP1")
	require.True(t, ok)
	assert.True(t, coll.PrimaryInteracted)
	// collimator info comes from the model
	assert.Equal(t, "C", coll.Info().Material)
	assert.InDelta(t, 3.0, l.Eloss.Energy[0], 1e-12)
}

func TestOpen_ExplicitSelection(t *testing.T) {
	path := writeFile(t, compat.Current, 2)
	hook := logtest.NewGlobal()
	defer hook.Reset()

	l := open(t, path, Config{
		SamplerNames:     []string{"s2", "missing"},
		BranchesToTurnOn: []string{"Eloss", "TCP1", "Nope"},
	})

	assert.Equal(t, []string{"s2"}, l.SamplerNames(hits.Plane))
	assert.Empty(t, l.SamplerNames(hits.Cylinder))
	assert.NotNil(t, l.Eloss)
	assert.Nil(t, l.ElossVacuum)
	_, ok := l.Collimator("TCP1")
	assert.True(t, ok)

	var warned []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = append(warned, e.Data["branch"].(string))
		}
	}
	assert.ElementsMatch(t, []string{"missing", "Nope"}, warned)
}

func TestSetBranchAddress_CanChangeSelection(t *testing.T) {
	l := open(t, writeFile(t, compat.Current, 2), Config{AllBranchesOn: true})
	require.NotNil(t, l.Eloss)

	require.NoError(t, l.SetBranchAddress(Config{}))
	assert.Nil(t, l.Eloss)
	_, ok := l.Record("Eloss")
	assert.False(t, ok)
	require.NoError(t, l.GetEntry(0))
	assert.Equal(t, int32(0), l.Summary.Index)
}

func TestGetEntry_OutOfOrder(t *testing.T) {
	l := open(t, writeFile(t, compat.Current, 12), Config{SamplerNames: []string{"s1"}})
	s1, ok := l.Sampler("s1")
	require.True(t, ok)

	for _, i := range []int64{11, 0, 5, 6, 5, 1} {
		require.NoError(t, l.GetEntry(i))
		assert.Equal(t, int32(i), l.Summary.Index)
		assert.Equal(t, int32(i+1), s1.N)
	}
	assert.Error(t, l.GetEntry(12))
}

func TestOpen_OneShotsAndHeaderRows(t *testing.T) {
	l := open(t, writeFile(t, compat.Current, 4), Config{})

	assert.Equal(t, int64(4), l.NumberOfEvents())
	assert.Equal(t, compat.Current, l.Version())
	assert.Equal(t, int64(0), l.Header().NEventsInFile)
	assert.Equal(t, int64(4), l.FinalHeader().NEventsInFile)
	assert.Equal(t, l.Header().FileID, l.FinalHeader().FileID)

	require.NotNil(t, l.Model())
	assert.Equal(t, []string{"s1", "s2"}, l.Model().SamplerNames)
	assert.Equal(t, 2, l.Model().Len())
	assert.Equal(t, "proton", l.Beam().Particle)
	v, ok := l.Options().Get("ngenerate")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	require.NotNil(t, l.ParticleData())
	assert.True(t, l.ParticleData().Frozen())
	assert.Equal(t, int64(4), l.RunInfo().NEventsProcessed)
	h, ok := l.RunHistos().Handle(event.HistoEnergyLoss)
	require.True(t, ok)
	assert.InDelta(t, 10.0, l.RunHistos().Integral(h), 1e-12)
}

func TestOpen_HistoricalVersion(t *testing.T) {
	// GIVEN a version 1 file
	l := open(t, writeFile(t, compat.V1, 2), Config{AllBranchesOn: true, BranchesToTurnOn: []string{"Summary"}})

	// THEN names resolve through the version and later branches are absent
	assert.Equal(t, compat.V1, l.Version())
	require.NotNil(t, l.Summary)
	_, ok := l.Record("Info")
	assert.True(t, ok)
	assert.NotNil(t, l.Eloss)
	assert.Nil(t, l.ElossVacuum)
	assert.Nil(t, l.PrimaryGlobal)
	assert.Nil(t, l.ApertureImpacts)
	assert.Nil(t, l.ParticleData())
	assert.Empty(t, l.SamplerNames(hits.Cylinder))
	require.NotNil(t, l.RunInfo())
	assert.Equal(t, int64(2), l.RunInfo().NEventsProcessed)

	require.NoError(t, l.GetEntry(1))
	assert.Equal(t, int32(1), l.Summary.Index)
}

func TestOpen_LiteralSphericalBinding(t *testing.T) {
	path := writeFile(t, compat.Current, 1)

	corrected := open(t, path, Config{AllBranchesOn: true})
	assert.Equal(t, []string{"c1"}, corrected.SamplerNames(hits.Cylinder))
	assert.Equal(t, []string{"sp1"}, corrected.SamplerNames(hits.Sphere))

	literal := open(t, path, Config{AllBranchesOn: true, LiteralSphericalBinding: true})
	assert.Equal(t, []string{"c1", "sp1"}, literal.SamplerNames(hits.Cylinder))
	assert.Empty(t, literal.SamplerNames(hits.Sphere))
	sp, ok := literal.Sampler("sp1")
	require.True(t, ok)
	assert.Equal(t, hits.Sphere, sp.Shape())
}

// writeCollimatorFile writes a file whose collimator branches use the
// historical name forms.
func writeCollimatorFile(t *testing.T, branches []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coll.bdr")
	w, err := store.Create(path, store.Options{})
	require.NoError(t, err)
	h := rec.NewHeader()
	h.Fill(int32(compat.Current), rec.FileTypeSimulation, time.Now())
	require.NoError(t, w.Branch(compat.TreeHeader, "Header", h))
	require.NoError(t, w.Branch(compat.TreeEvent, "Summary", rec.NewEventInfo()))
	for _, b := range branches {
		require.NoError(t, w.Branch(compat.TreeEvent, b, rec.NewCollimator(rec.CollimatorInfo{Name: b}, rec.CollimatorOptions{})))
	}
	require.NoError(t, w.Fill(compat.TreeHeader))
	require.NoError(t, w.Fill(compat.TreeEvent))
	require.NoError(t, w.Close())
	return path
}

func TestCollimator_NameFallback(t *testing.T) {
	path := writeCollimatorFile(t, []string{"COLL_TCP1_0", "TCP2", "COLL_TCP3", "TCP4.", "COLL_TCP5"})
	l := open(t, path, Config{AllBranchesOn: true})

	tests := []struct {
		name   string
		branch string
		found  bool
	}{
		{"TCP1", "COLL_TCP1_0", true},
		{"TCP2", "TCP2", true},
		{"TCP3", "COLL_TCP3", true},
		{"TCP4", "TCP4.", true},
		{"COLL_TCP5", "COLL_TCP5", true},
		{"TCP6", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := l.Collimator(tt.name)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				r, _ := l.Record(tt.branch)
				assert.Same(t, r, c)
			}
		})
	}
}

func TestCollimatorCandidates_Order(t *testing.T) {
	assert.Equal(t, []string{"TCP1", "TCP1.", "COLL_TCP1", "COLL_TCP1_0"}, collimatorCandidates("TCP1"))
	assert.Equal(t, []string{"s1", "s1."}, samplerCandidates("s1"))
}

func TestLoader_Resolve(t *testing.T) {
	l, err := Open(writeFile(t, compat.Current, 1), Config{AllBranchesOn: true})
	require.NoError(t, err)
	defer l.Close()

	tests := []struct{ name, want string }{
		{"Eloss", "Eloss"},
		{"s1", "s1."},
		{"s1.", "s1."},
		{"TCP1", "COLL_TCP1"},
	}
	for _, tc := range tests {
		got, ok := l.Resolve(tc.name)
		assert.True(t, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
	_, ok := l.Resolve("missing")
	assert.False(t, ok)
}
