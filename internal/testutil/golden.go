// Package testutil provides shared test infrastructure for beamrec: the
// golden dataset of reference physics values and float assertion helpers
// used across the rec, event and load test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Rigidity         []GoldenRigidity `json:"rigidity"`
	ImpactParameters []GoldenImpact   `json:"impact_parameters"`
}

// GoldenRigidity is a reference rigidity for one particle and energy.
type GoldenRigidity struct {
	Name        string  `json:"name"`
	PDG         int32   `json:"pdg"`
	TotalEnergy float64 `json:"total_energy"`
	Rigidity    float64 `json:"rigidity"`
}

// GoldenImpact is a reference collimator impact parameter. Lengths are in
// metres and the tilt in radians.
type GoldenImpact struct {
	Name     string  `json:"name"`
	Length   float64 `json:"length"`
	Tilt     float64 `json:"tilt"`
	XSizeIn  float64 `json:"x_size_in"`
	XSizeOut float64 `json:"x_size_out"`
	YSizeIn  float64 `json:"y_size_in"`
	YSizeOut float64 `json:"y_size_out"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	ImpactX  float64 `json:"impact_x"`
	ImpactY  float64 `json:"impact_y"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "testdata", "goldendataset.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == got {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertFloat64sEqual compares two slices elementwise with relative tolerance.
func AssertFloat64sEqual(t *testing.T, name string, want, got []float64, relTol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Errorf("%s: got %d values, want %d", name, len(got), len(want))
		return
	}
	for i := range want {
		AssertFloat64Equal(t, name, want[i], got[i], relTol)
	}
}
