package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

func testModel() *rec.Model {
	m := rec.NewModel(rec.ModelOptions{})
	m.AddElement(rec.Element{ComponentName: "d1", PlacementName: "d1_0", Length: 1, StaS: 0, MidS: 0.5, EndS: 1})
	m.AddElement(rec.Element{ComponentName: "mk", PlacementName: "mk_0", StaS: 1, MidS: 1, EndS: 1})
	m.AddElement(rec.Element{ComponentName: "q1", PlacementName: "q1_0", Length: 2, StaS: 1, MidS: 2, EndS: 3})
	return m
}

func newRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := New(rec.DefaultParticleData())
	r.InitialiseFixed(cfg)
	require.NoError(t, r.InitialiseDynamic(Dynamic{
		Samplers:    []string{"s1", "s2"},
		SamplersC:   []string{"c1"},
		Collimators: []rec.CollimatorInfo{{Name: "TCP1", Length: 1, XSizeIn: 0.002, XSizeOut: 0.002, YSizeIn: 0.01, YSizeOut: 0.01}},
	}))
	return r
}

func TestInitialiseFixed_FollowsStoreFlags(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		check func(t *testing.T, r *Registry)
	}{
		{"defaults", DefaultConfig(), func(t *testing.T, r *Registry) {
			assert.NotNil(t, r.Primary)
			assert.NotNil(t, r.Eloss)
			assert.NotNil(t, r.PrimaryFirstHit)
			assert.Nil(t, r.ElossWorld)
			assert.Nil(t, r.ElossWorldContents)
			assert.NotNil(t, r.EventHistos)
		}},
		{"nothing", Config{Histograms: HistogramConfig{Disabled: true}}, func(t *testing.T, r *Registry) {
			assert.Nil(t, r.Primary)
			assert.Nil(t, r.Eloss)
			assert.Nil(t, r.Trajectory)
			assert.Nil(t, r.EventHistos)
			assert.Nil(t, r.RunHistos)
			// summaries always exist
			assert.NotNil(t, r.Info)
			assert.NotNil(t, r.RunInfo)
		}},
		{"loss columns frozen in", Config{Eloss: true, Loss: rec.LossOptions{Global: true}}, func(t *testing.T, r *Registry) {
			assert.Equal(t, rec.LossOptions{Global: true}, r.Eloss.Options())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			r.InitialiseFixed(tt.cfg)
			tt.check(t, r)
		})
	}
}

func TestInitialise_AfterEventLoop_Panics(t *testing.T) {
	// GIVEN a registry that has filled an event
	r := newRegistry(t, DefaultConfig())
	require.NoError(t, r.FillEvent(&hits.Event{}))

	// THEN re-initialising is a contract violation
	assert.PanicsWithValue(t, ErrAlreadyInitialised, func() { r.InitialiseFixed(DefaultConfig()) })
	assert.PanicsWithValue(t, ErrAlreadyInitialised, func() { _ = r.InitialiseDynamic(Dynamic{}) })
}

func TestInitialiseFixed_BeforeEventLoop_CanBeRepeated(t *testing.T) {
	r := New(nil)
	r.InitialiseFixed(DefaultConfig())
	assert.NotPanics(t, func() { r.InitialiseFixed(Config{Eloss: true}) })
	assert.Nil(t, r.Primary)
	assert.NotNil(t, r.Eloss)
}

func TestCollection_HandlesStayStable(t *testing.T) {
	// GIVEN two samplers with handles given out and filled
	r := newRegistry(t, DefaultConfig())
	first, second := r.Samplers.Handle(0), r.Samplers.Handle(1)
	first.Fill(hits.SamplerHit{TotalEnergy: 1, Weight: 1})

	// WHEN the collection grows up to its reservation
	assert.Equal(t, 2+SpareCapacity, r.Samplers.Cap())
	var names []string
	for i := 0; i < SpareCapacity; i++ {
		names = append(names, "extra"+string(rune('a'+i)))
	}
	added, err := r.UpdateSamplers(names, hits.Plane)
	require.NoError(t, err)
	assert.Equal(t, SpareCapacity, added)

	// THEN earlier handles still address the same records
	assert.Same(t, first, r.Samplers.Handle(0))
	assert.Same(t, second, r.Samplers.Handle(1))
	assert.Equal(t, int32(1), first.N)
	got, ok := r.Samplers.Lookup("s2")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestCollection_GrowthPastReservation_Panics(t *testing.T) {
	r := newRegistry(t, DefaultConfig())
	_ = r.Collimators.Handle(0)
	var infos []rec.CollimatorInfo
	for i := 0; i < SpareCapacity; i++ {
		infos = append(infos, rec.CollimatorInfo{Name: "C" + string(rune('A'+i))})
	}
	_, err := r.UpdateCollimators(infos)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = r.UpdateCollimators([]rec.CollimatorInfo{{Name: "ONE_TOO_MANY"}})
	})
}

func TestCollection_GrowthBeforeHandles_Allowed(t *testing.T) {
	var c Collection[rec.Sampler]
	c.reserve(0)
	assert.NotPanics(t, func() {
		for i := 0; i < SpareCapacity+5; i++ {
			c.add(string(rune('a'+i)), rec.NewSampler(hits.Plane, rec.SamplerOptions{}))
		}
	})
	assert.Equal(t, SpareCapacity+5, c.Len())
}

func TestUpdateSamplers_SkipsKnownNames(t *testing.T) {
	r := newRegistry(t, DefaultConfig())
	n, err := r.UpdateSamplers([]string{"s1", "s3"}, hits.Plane)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"s1", "s2", "s3"}, r.Samplers.Names())
}

func TestUpdateSamplers_SharedNamespace(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		shape   hits.Shape
		wantErr bool
		wantNew int
	}{
		{"plane named like a cylinder", []string{"c1"}, hits.Plane, true, 0},
		{"sphere named like a plane", []string{"s1"}, hits.Sphere, true, 0},
		{"clash after a good name adds nothing", []string{"s9", "c1"}, hits.Plane, true, 0},
		{"protected name", []string{"Eloss"}, hits.Cylinder, true, 0},
		{"same shape again is skipped", []string{"c1", "c2"}, hits.Cylinder, false, 1},
		{"repeated in one call", []string{"p1", "p1"}, hits.Sphere, false, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN planes s1, s2 and cylinder c1
			r := newRegistry(t, DefaultConfig())
			before := r.Samplers.Len() + r.SamplersC.Len() + r.SamplersS.Len()

			// WHEN samplers are added mid-run
			n, err := r.UpdateSamplers(tc.names, tc.shape)

			// THEN clashes across shapes are rejected without side effects
			assert.Equal(t, tc.wantErr, err != nil, "err = %v", err)
			assert.Equal(t, tc.wantNew, n)
			after := r.Samplers.Len() + r.SamplersC.Len() + r.SamplersS.Len()
			assert.Equal(t, before+tc.wantNew, after)
		})
	}
}

func TestValidateName(t *testing.T) {
	for name := range ProtectedNames {
		assert.True(t, errors.Is(ValidateName(name), ErrProtectedName), name)
	}
	assert.Error(t, ValidateName(""))
	assert.NoError(t, ValidateName("TCP1"))
	assert.NoError(t, ValidateName("Summary"))
}

func TestDynamic_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       Dynamic
		wantErr bool
	}{
		{"ok", Dynamic{Samplers: []string{"a"}, SamplersS: []string{"b"}}, false},
		{"protected sampler", Dynamic{Samplers: []string{"Eloss"}}, true},
		{"duplicate across shapes", Dynamic{Samplers: []string{"a"}, SamplersC: []string{"a"}}, true},
		{"protected collimator", Dynamic{Collimators: []rec.CollimatorInfo{{Name: "Trajectory"}}}, true},
		{"sampler and collimator may share", Dynamic{Samplers: []string{"TCP1"}, Collimators: []rec.CollimatorInfo{{Name: "TCP1"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func testEvent() *hits.Event {
	return &hits.Event{
		Index:   7,
		Primary: &hits.SamplerHit{TotalEnergy: 10, Weight: 1, PDG: 2212, TrackID: 1},
		Samplers: []hits.SamplerHit{
			{Sampler: 1, Shape: hits.Plane, TotalEnergy: 9, Weight: 1, PDG: 2212},
			{Sampler: 1, Shape: hits.Plane, TotalEnergy: 8, Weight: 1, PDG: 2212},
			{Sampler: 0, Shape: hits.Cylinder, TotalEnergy: 7, Weight: 1, PDG: 211},
		},
		Eloss: []hits.EnergyDeposit{
			{Energy: 2, S: 1500, Weight: 1, Global: column.Vec3{X: 100, Y: 100, Z: 1500}},
			{Energy: 1, S: 500, Weight: 1},
		},
		ElossVacuum:        []hits.EnergyDeposit{{Energy: 0.5, Weight: 1}},
		ElossWorld:         []hits.EnergyDeposit{{Energy: 0.1, Weight: 1}},
		ElossWorldContents: []hits.EnergyDeposit{{Energy: 0.2, Weight: 1}},
		ElossTunnel:        []hits.EnergyDeposit{{Energy: 0.05, Weight: 1}},
		ElossWorldExit:     []hits.EnergyDeposit{{Energy: 0.15, Weight: 1}},
		PrimaryFirstHit:    &hits.EnergyDeposit{S: 500, Weight: 1},
		PrimaryLastHit:     &hits.EnergyDeposit{S: 2500, Weight: 1},
		Collimators: []hits.CollimatorHit{
			{Collimator: 0, TotalEnergy: 9, EnergyDeposited: 0.3, Weight: 1, PDG: 2212, IsPrimary: true},
		},
		PrimaryStopped:   true,
		PrimaryStoppedIn: 0,
		Info:             hits.Info{Aborted: true, NTracks: 4},
	}
}

func TestFillEvent_RoutesHits(t *testing.T) {
	// GIVEN a registry with two plane samplers, one cylindrical and a collimator
	r := newRegistry(t, DefaultConfig())

	// WHEN an event is filled
	require.NoError(t, r.FillEvent(testEvent()))

	// THEN each hit lands in the record its index names
	assert.Equal(t, int32(1), r.Primary.N)
	assert.Equal(t, int32(0), r.Samplers.Handle(0).N)
	assert.Equal(t, int32(2), r.Samplers.Handle(1).N)
	assert.Equal(t, int32(1), r.SamplersC.Handle(0).N)
	assert.Equal(t, int32(2), r.Eloss.N)
	assert.Equal(t, int32(1), r.ElossVacuum.N)
	assert.Equal(t, int32(1), r.PrimaryFirstHit.N)

	coll := r.Collimators.Handle(0)
	assert.True(t, coll.PrimaryInteracted)
	assert.True(t, coll.PrimaryStopped)
	assert.Equal(t, []bool{true}, coll.FirstPrimaryHitThisTurn)

	assert.Equal(t, int32(7), r.Info.Index)
	assert.True(t, r.Info.Aborted)
	assert.True(t, r.Info.PrimaryHitMachine)
	assert.True(t, r.Info.PrimaryAbsorbedInCollimator)
	assert.Equal(t, int32(1), r.Info.NCollimatorsInteracted)
}

func TestFillEvent_PrimaryNotStopped_ByDefault(t *testing.T) {
	// GIVEN an event where the primary hits collimator 0 but nothing says it stopped
	r := newRegistry(t, DefaultConfig())
	evt := testEvent()
	evt.PrimaryStopped = false

	// WHEN it is filled
	require.NoError(t, r.FillEvent(evt))

	// THEN the collimator saw the primary without absorbing it
	coll := r.Collimators.Handle(0)
	assert.True(t, coll.PrimaryInteracted)
	assert.False(t, coll.PrimaryStopped)
	assert.False(t, r.Info.PrimaryAbsorbedInCollimator)
}

func TestFillEvent_EnergyTotalsCrossCheck(t *testing.T) {
	r := newRegistry(t, DefaultConfig())
	evt := testEvent()
	// accelerator total of 3.0
	require.NoError(t, r.FillEvent(evt))

	assert.InDelta(t, 3.0, r.Info.EnergyDeposited, 1e-12)
	assert.InDelta(t, 4.0, r.Info.EnergyTotal, 1e-9)
	assert.InDelta(t, 0.0, r.Info.EnergyBalance(), 1e-12)
	// world losses count even though their branches are not stored
	assert.Nil(t, r.ElossWorld)
	assert.InDelta(t, 0.1, r.Info.EnergyDepositedWorld, 1e-12)
}

func TestFillEvent_UnknownIndex_LeavesRecordsUntouched(t *testing.T) {
	r := newRegistry(t, DefaultConfig())
	evt := testEvent()
	evt.Samplers = append(evt.Samplers, hits.SamplerHit{Sampler: 5, Shape: hits.Sphere})

	err := r.FillEvent(evt)

	assert.True(t, errors.Is(err, ErrUnknownIndex))
	assert.Equal(t, int32(0), r.Primary.N)
	assert.Equal(t, int32(0), r.Eloss.N)
	assert.False(t, r.Started())
}

func TestClearEventLevel_KeepsRunLevel(t *testing.T) {
	r := newRegistry(t, DefaultConfig())
	require.NoError(t, r.CreateHistograms(testModel(), compat.Current))
	require.NoError(t, r.FillEvent(testEvent()))
	r.RunInfo.NEventsProcessed = 1

	// WHEN the event level is cleared
	r.ClearEventLevel()

	// THEN every per-event record is empty and the run level is intact
	assert.Equal(t, int32(0), r.Primary.N)
	assert.Equal(t, int32(0), r.Samplers.Handle(1).N)
	assert.Equal(t, int32(0), r.Collimators.Handle(0).N)
	assert.False(t, r.Collimators.Handle(0).PrimaryStopped)
	assert.Equal(t, 0.0, r.Info.EnergyTotal)
	h, _ := r.EventHistos.Handle(HistoEnergyLoss)
	assert.Equal(t, 0.0, r.EventHistos.Integral(h))
	assert.Equal(t, 3.0, r.RunHistos.Integral(h))
	assert.Equal(t, int64(1), r.RunInfo.NEventsProcessed)

	r.ClearRunLevel()
	assert.Equal(t, 0.0, r.RunHistos.Integral(h))
	assert.Equal(t, int64(0), r.RunInfo.NEventsProcessed)
}

func TestCreateHistograms_FillAndAccumulate(t *testing.T) {
	// GIVEN a 3 m beam line with 1 m bins
	r := newRegistry(t, DefaultConfig())
	require.NoError(t, r.CreateHistograms(testModel(), compat.Current))

	// WHEN two events are filled
	for i := 0; i < 2; i++ {
		r.ClearEventLevel()
		require.NoError(t, r.FillEvent(testEvent()))
	}

	// THEN the event set holds the last event and the run set both
	eloss, ok := r.EventHistos.Handle(HistoEnergyLoss)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1, 2, 0, 0}, r.EventHistos.Contents[eloss])
	assert.Equal(t, []float64{0, 2, 4, 0, 0}, r.RunHistos.Contents[eloss])

	// per element bins drop the zero length marker: [0,1) [1,3)
	pe, ok := r.RunHistos.Handle(HistoEnergyLossPE)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 2, 4, 0}, r.RunHistos.Contents[pe])

	ploss, _ := r.RunHistos.Handle(HistoPrimaryLoss)
	assert.Equal(t, 2.0, r.RunHistos.Bin(ploss, 3))
	phits, _ := r.RunHistos.Handle(HistoPrimaryHits)
	assert.Equal(t, 2.0, r.RunHistos.Bin(phits, 1))
	_, ok = r.RunHistos.Handle(HistoEnergyLossTunnel)
	assert.True(t, ok)
}

func TestCreateHistograms_Meshes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Histograms.Meshes = []Mesh{
		{Name: "box", X: rec.Uniform(2, -1, 1), Y: rec.Uniform(2, -1, 1), Z: rec.Uniform(3, 0, 3)},
		{Name: "box4", X: rec.Uniform(2, -1, 1), Y: rec.Uniform(2, -1, 1), Z: rec.Uniform(3, 0, 3),
			Energy: &rec.EnergyAxis{Scale: rec.ScaleLinear, N: 2, Low: 0, High: 2}},
	}

	t.Run("current version fills both", func(t *testing.T) {
		r := newRegistry(t, cfg)
		require.NoError(t, r.CreateHistograms(testModel(), compat.Current))
		require.NoError(t, r.FillEvent(testEvent()))

		box, ok := r.EventHistos.Handle("box")
		require.True(t, ok)
		// the deposit at (0.1, 0.1, 1.5) m
		assert.Equal(t, 2.0, r.EventHistos.Bin3D(box, 1, 1, 1))
		box4, ok := r.EventHistos.Handle("box4")
		require.True(t, ok)
		assert.Equal(t, 2.0, r.EventHistos.Bin4D(box4, 1, 1, 1, 0))
	})

	t.Run("4D skipped before it existed", func(t *testing.T) {
		r := newRegistry(t, cfg)
		require.NoError(t, r.CreateHistograms(testModel(), compat.V5))
		_, ok := r.EventHistos.Handle("box")
		assert.True(t, ok)
		_, ok = r.EventHistos.Handle("box4")
		assert.False(t, ok)
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Histograms.BinWidth = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Histograms.Meshes = []Mesh{{Name: "a"}, {Name: "a"}}
	assert.Error(t, cfg.Validate())
}
