package event

import (
	"errors"
	"fmt"

	"github.com/beamrec/beamrec/rec"
)

// ErrProtectedName is returned when a sampler or collimator name collides
// with a reserved branch name.
var ErrProtectedName = errors.New("name is reserved")

// ProtectedNames are branch names of the Event tree that a user defined
// sampler or collimator may not take.
var ProtectedNames = map[string]bool{
	"Event": true, "Histos": true, "Info": true, "Primary": true, "PrimaryGlobal": true,
	"Eloss": true, "ElossVacuum": true, "ElossTunnel": true, "ElossWorld": true,
	"ElossWorldExit": true, "ElossWorldContents": true, "PrimaryFirstHit": true,
	"PrimaryLastHit": true, "Trajectory": true, "ApertureImpacts": true,
}

// ValidateName checks a user supplied sampler or collimator name.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	if ProtectedNames[name] {
		return fmt.Errorf("%q: %w", name, ErrProtectedName)
	}
	return nil
}

// Config holds the store flags of a run. They decide which records exist and
// which optional columns those records carry, and are frozen once the
// registry is initialised.
type Config struct {
	Primary            bool `yaml:"primary"`
	PrimaryGlobal      bool `yaml:"primary_global"`
	Eloss              bool `yaml:"eloss"`
	ElossVacuum        bool `yaml:"eloss_vacuum"`
	ElossTunnel        bool `yaml:"eloss_tunnel"`
	ElossWorld         bool `yaml:"eloss_world"`
	ElossWorldExit     bool `yaml:"eloss_world_exit"`
	ElossWorldContents bool `yaml:"eloss_world_contents"`
	PrimaryHits        bool `yaml:"primary_hits"`
	Trajectory         bool `yaml:"trajectory"`
	ApertureImpacts    bool `yaml:"aperture_impacts"`

	Loss              rec.LossOptions       `yaml:"loss"`
	Sampler           rec.SamplerOptions    `yaml:"sampler"`
	Collimator        rec.CollimatorOptions `yaml:"collimator"`
	TrajectoryColumns rec.TrajectoryOptions `yaml:"trajectory_columns"`

	Histograms HistogramConfig `yaml:"histograms"`
}

// HistogramConfig defines the default histograms.
type HistogramConfig struct {
	Disabled bool `yaml:"disabled"`
	// BinWidth is the S bin width in metres of the uniform histograms.
	BinWidth float64 `yaml:"bin_width"`
	// PerElement adds histograms binned by beam line element.
	PerElement bool   `yaml:"per_element"`
	Meshes     []Mesh `yaml:"meshes"`
}

// Mesh is a scoring mesh filled with the energy deposited at global
// positions. A mesh with an energy axis is a 4D histogram over the
// pre-step kinetic energy.
type Mesh struct {
	Name            string          `yaml:"name"`
	X               rec.Binning     `yaml:"x"`
	Y               rec.Binning     `yaml:"y"`
	Z               rec.Binning     `yaml:"z"`
	Energy          *rec.EnergyAxis `yaml:"energy,omitempty"`
	EnergyEdgesFile string          `yaml:"energy_edges_file,omitempty"`
}

// Is4D reports whether the mesh has an energy axis.
func (m Mesh) Is4D() bool { return m.Energy != nil || m.EnergyEdgesFile != "" }

// DefaultConfig returns the store flags used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Primary:         true,
		PrimaryGlobal:   true,
		Eloss:           true,
		ElossVacuum:     true,
		ElossTunnel:     true,
		PrimaryHits:     true,
		Trajectory:      true,
		ApertureImpacts: true,
		Loss:            rec.LossOptions{Turn: true, Links: true},
		Histograms:      HistogramConfig{BinWidth: 1, PerElement: true},
	}
}

// Validate checks the histogram definitions.
func (c *Config) Validate() error {
	h := c.Histograms
	if h.Disabled {
		return nil
	}
	if h.BinWidth <= 0 {
		return fmt.Errorf("histogram bin width must be > 0, got %g", h.BinWidth)
	}
	seen := make(map[string]bool)
	for _, m := range h.Meshes {
		if m.Name == "" {
			return errors.New("scoring mesh without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate scoring mesh %q", m.Name)
		}
		seen[m.Name] = true
		if m.Energy != nil && m.EnergyEdgesFile != "" {
			return fmt.Errorf("scoring mesh %q: energy axis and energy edges file are exclusive", m.Name)
		}
	}
	return nil
}

// Dynamic names the samplers of each shape and the collimators of a run.
type Dynamic struct {
	Samplers    []string
	SamplersC   []string
	SamplersS   []string
	Collimators []rec.CollimatorInfo
}

// Validate checks every name. Samplers of all shapes share one namespace,
// collimators have their own.
func (d Dynamic) Validate() error {
	samplers := make(map[string]bool)
	for _, names := range [][]string{d.Samplers, d.SamplersC, d.SamplersS} {
		for _, n := range names {
			if err := checkName(samplers, n); err != nil {
				return fmt.Errorf("sampler: %w", err)
			}
		}
	}
	collimators := make(map[string]bool)
	for _, c := range d.Collimators {
		if err := checkName(collimators, c.Name); err != nil {
			return fmt.Errorf("collimator: %w", err)
		}
	}
	return nil
}

func checkName(seen map[string]bool, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if seen[name] {
		return fmt.Errorf("duplicate name %q", name)
	}
	seen[name] = true
	return nil
}
