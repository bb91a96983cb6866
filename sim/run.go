package sim

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/output"
	"github.com/beamrec/beamrec/rec"
)

// RunConfig is everything needed to simulate and write one run.
type RunConfig struct {
	Output    output.Config      `yaml:"output"`
	Lattice   Lattice            `yaml:"lattice"`
	Beam      rec.BeamDefinition `yaml:"beam"`
	Generator GeneratorConfig    `yaml:"generator"`
	Events    int64              `yaml:"events"`
	// Options are free-form settings recorded in the Options tree.
	Options map[string]string `yaml:"options"`
}

// DefaultRunConfig returns a 100 event run of the default line and beam.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Output:    output.DefaultConfig(),
		Lattice:   *DefaultLattice(),
		Beam:      DefaultBeam(),
		Generator: DefaultGeneratorConfig(),
		Events:    100,
	}
}

// Validate checks every section of the run.
func (c *RunConfig) Validate() error {
	if c.Events <= 0 {
		return fmt.Errorf("events must be > 0, got %d", c.Events)
	}
	if c.Events > math.MaxInt32 {
		return fmt.Errorf("events must fit an event index, got %d", c.Events)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := c.Lattice.Validate(); err != nil {
		return fmt.Errorf("lattice: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

// Run simulates c.Events events and writes them through an output.Writer.
// It returns the files written, including a partial one on error.
func Run(ctx context.Context, c RunConfig) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	table := rec.DefaultParticleData()
	lat := &c.Lattice
	gen, err := NewGenerator(lat, c.Beam, table, c.Generator)
	if err != nil {
		return nil, err
	}

	reg := event.New(table)
	reg.InitialiseFixed(c.Output.Store)
	if err := reg.InitialiseDynamic(lat.Dynamic()); err != nil {
		return nil, err
	}
	model := lat.Model(rec.ModelOptions{StoreCollimatorInfo: true, StoreCavityInfo: true})
	if err := reg.CreateHistograms(model, c.Output.Version()); err != nil {
		return nil, err
	}
	w, err := output.New(c.Output, reg, nil)
	if err != nil {
		return nil, err
	}
	w.SetEventsRequested(c.Events)

	opts := rec.NewOptions()
	for _, k := range slices.Sorted(maps.Keys(c.Options)) {
		opts.Set(k, c.Options[k])
	}
	opts.Set("ngenerate", strconv.FormatInt(c.Events, 10))
	opts.Set("seed", strconv.FormatInt(c.Generator.Seed, 10))
	beam := c.Beam
	beam.NGenerate = c.Events

	fail := func(err error) ([]string, error) {
		w.Close()
		return w.Paths(), err
	}
	for _, step := range []func() error{
		w.NewFile,
		w.WriteHeader,
		func() error { return w.WriteParticleData(table) },
		func() error { return w.WriteBeam(beam) },
		func() error { return w.WriteOptions(opts) },
		func() error { return w.WriteModel(model) },
	} {
		if err := step(); err != nil {
			return fail(err)
		}
	}

	for i := int64(0); i < c.Events; i++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := w.FillEvent(gen.Event(int32(i))); err != nil {
			return fail(err)
		}
		if err := w.WriteFileEventLevel(); err != nil {
			return fail(err)
		}
		if err := w.ClearStructuresEventLevel(); err != nil {
			return fail(err)
		}
	}
	if err := w.FillRun(gen.Run(c.Events)); err != nil {
		return fail(err)
	}
	if err := w.WriteFileRunLevel(); err != nil {
		return w.Paths(), err
	}
	logrus.WithFields(logrus.Fields{
		"events": c.Events,
		"files":  len(w.Paths()),
		"seed":   c.Generator.Seed,
	}).Info("run complete")
	return w.Paths(), nil
}
