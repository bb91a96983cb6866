package rec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/beamrec/beamrec/column"
)

var (
	// ErrBinningMismatch is returned when accumulating histograms with
	// different dimensions or bin edges.
	ErrBinningMismatch = errors.New("histogram binning mismatch")
	// ErrNoHistogram is returned for an unknown handle.
	ErrNoHistogram = errors.New("no such histogram")
	// ErrBadBinning is returned for invalid axis definitions.
	ErrBadBinning = errors.New("invalid binning")
)

// Binning defines one histogram axis: either N uniform bins in [Low, High)
// or explicit, strictly increasing edges.
type Binning struct {
	N     int       `yaml:"n"`
	Low   float64   `yaml:"low"`
	High  float64   `yaml:"high"`
	Edges []float64 `yaml:"edges,omitempty"`
}

// Uniform returns n equal bins between low and high.
func Uniform(n int, low, high float64) Binning { return Binning{N: n, Low: low, High: high} }

// Explicit returns a binning with the given edges.
func Explicit(edges []float64) Binning { return Binning{Edges: slices.Clone(edges)} }

func (b Binning) edges() ([]float64, error) {
	if len(b.Edges) > 0 {
		if len(b.Edges) < 2 {
			return nil, fmt.Errorf("%w: need at least two edges", ErrBadBinning)
		}
		if !strictlyIncreasing(b.Edges) {
			return nil, fmt.Errorf("%w: edges not strictly increasing", ErrBadBinning)
		}
		return slices.Clone(b.Edges), nil
	}
	if b.N <= 0 || !(b.High > b.Low) {
		return nil, fmt.Errorf("%w: n=%d low=%g high=%g", ErrBadBinning, b.N, b.Low, b.High)
	}
	return floats.Span(make([]float64, b.N+1), b.Low, b.High), nil
}

// Scale is the spacing of a 4D histogram's energy axis.
type Scale string

const (
	ScaleLinear Scale = "linear"
	ScaleLog    Scale = "log"
	ScaleUser   Scale = "user"
)

// EnergyAxis is the fourth axis of a 4D histogram. User scales take their
// edges from Edges, usually read with LoadEnergyEdges.
type EnergyAxis struct {
	Scale Scale     `yaml:"scale"`
	N     int       `yaml:"n"`
	Low   float64   `yaml:"low"`
	High  float64   `yaml:"high"`
	Edges []float64 `yaml:"edges,omitempty"`
}

func (a EnergyAxis) edges() ([]float64, error) {
	switch a.Scale {
	case ScaleLinear, "":
		return Binning{N: a.N, Low: a.Low, High: a.High}.edges()
	case ScaleLog:
		if a.N <= 0 || a.Low <= 0 || !(a.High > a.Low) {
			return nil, fmt.Errorf("%w: log axis n=%d low=%g high=%g", ErrBadBinning, a.N, a.Low, a.High)
		}
		return floats.LogSpan(make([]float64, a.N+1), a.Low, a.High), nil
	case ScaleUser:
		return Binning{Edges: a.Edges}.edges()
	}
	return nil, fmt.Errorf("%w: unknown energy scale %q", ErrBadBinning, a.Scale)
}

// LoadEnergyEdges reads user energy bin edges from a file of whitespace or
// comma separated numbers.
func LoadEnergyEdges(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening energy edges: %w", err)
	}
	defer f.Close()
	edges, err := ReadEnergyEdges(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return edges, nil
}

// ReadEnergyEdges parses energy bin edges. Lines starting with # are
// comments.
func ReadEnergyEdges(r io.Reader) ([]float64, error) {
	var edges []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, tok := range strings.FieldsFunc(line, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t'
		}) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing edge %q: %w", tok, err)
			}
			edges = append(edges, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(edges) < 2 || !strictlyIncreasing(edges) {
		return nil, fmt.Errorf("%w: %d edges, must be at least two and strictly increasing", ErrBadBinning, len(edges))
	}
	return edges, nil
}

func strictlyIncreasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if !(v[i] > v[i-1]) {
			return false
		}
	}
	return true
}

// Histos is a set of 1D, 3D and 4D histograms stored as parallel columns.
// A histogram is addressed by the integer handle returned when it was
// created; handles stay valid until the set is loaded from another entry.
//
// 1D contents carry an underflow bin at index 0 and an overflow bin at
// index n+1. 3D and 4D fills outside the axes are dropped but still counted
// as entries.
type Histos struct {
	fieldSet
	byName map[string]int

	Names    []string
	Titles   []string
	Dims     []int32
	Scales   []string
	NBins    [][]int32
	Edges    [][]float64
	Contents [][]float64
	SumW2    [][]float64
	Entries  []int64
}

func NewHistos() *Histos {
	h := &Histos{byName: make(map[string]int)}
	h.bind(
		column.Strings("names", &h.Names),
		column.Strings("titles", &h.Titles),
		column.Int32s("dims", &h.Dims),
		column.Strings("scales", &h.Scales),
		column.Int32ss("nbins", &h.NBins),
		column.Float64ss("edges", &h.Edges),
		column.Float64ss("contents", &h.Contents),
		column.Float64ss("sumw2", &h.SumW2),
		column.Int64s("entries", &h.Entries),
	)
	return h
}

func (h *Histos) Kind() string { return KindHistos }
func (h *Histos) Version() int { return HistosVersion }

// Len returns the number of histograms.
func (h *Histos) Len() int { return len(h.Names) }

// Handle returns the handle of a named histogram.
func (h *Histos) Handle(name string) (int, bool) {
	i, ok := h.byName[name]
	return i, ok
}

// Flush zeroes every histogram, keeping definitions and handles.
func (h *Histos) Flush() {
	for i := range h.Contents {
		clear(h.Contents[i])
		clear(h.SumW2[i])
		h.Entries[i] = 0
	}
}

func (h *Histos) create(name, title string, dims int32, scale Scale, nbins []int32, edges []float64, size int) (int, error) {
	if i, ok := h.byName[name]; ok {
		if h.Dims[i] != dims || !slices.Equal(h.NBins[i], nbins) || !floats.Equal(h.Edges[i], edges) {
			return i, fmt.Errorf("creating %q: %w", name, ErrBinningMismatch)
		}
		return i, nil
	}
	i := len(h.Names)
	h.byName[name] = i
	h.Names = append(h.Names, name)
	h.Titles = append(h.Titles, title)
	h.Dims = append(h.Dims, dims)
	h.Scales = append(h.Scales, string(scale))
	h.NBins = append(h.NBins, nbins)
	h.Edges = append(h.Edges, edges)
	h.Contents = append(h.Contents, make([]float64, size))
	h.SumW2 = append(h.SumW2, make([]float64, size))
	h.Entries = append(h.Entries, 0)
	return i, nil
}

// Create1DHistogram defines a 1D histogram and returns its handle. Creating
// an existing name with the same binning returns the existing handle.
func (h *Histos) Create1DHistogram(name, title string, b Binning) (int, error) {
	e, err := b.edges()
	if err != nil {
		return -1, fmt.Errorf("creating %q: %w", name, err)
	}
	n := len(e) - 1
	return h.create(name, title, 1, "", []int32{int32(n)}, e, n+2)
}

// Create3DHistogram defines a 3D histogram.
func (h *Histos) Create3DHistogram(name, title string, x, y, z Binning) (int, error) {
	return h.createND(name, title, "", x, y, z)
}

// Create4DHistogram defines a 3D spatial histogram with an energy axis.
func (h *Histos) Create4DHistogram(name, title string, x, y, z Binning, e EnergyAxis) (int, error) {
	ee, err := e.edges()
	if err != nil {
		return -1, fmt.Errorf("creating %q: %w", name, err)
	}
	scale := e.Scale
	if scale == "" {
		scale = ScaleLinear
	}
	return h.createND(name, title, scale, x, y, z, Explicit(ee))
}

func (h *Histos) createND(name, title string, scale Scale, axes ...Binning) (int, error) {
	var (
		nbins []int32
		edges []float64
	)
	size := 1
	for _, a := range axes {
		e, err := a.edges()
		if err != nil {
			return -1, fmt.Errorf("creating %q: %w", name, err)
		}
		nbins = append(nbins, int32(len(e)-1))
		edges = append(edges, e...)
		size *= len(e) - 1
	}
	return h.create(name, title, int32(len(axes)), scale, nbins, edges, size)
}

// axis returns the edges of axis k of histogram i.
func (h *Histos) axis(i, k int) []float64 {
	off := 0
	for j := 0; j < k; j++ {
		off += int(h.NBins[i][j]) + 1
	}
	return h.Edges[i][off : off+int(h.NBins[i][k])+1]
}

// locate returns the bin of x, -1 below the first edge and n at or above the
// last.
func locate(edges []float64, x float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] > x }) - 1
}

func (h *Histos) check(i int, dims int32) {
	if i < 0 || i >= len(h.Names) || h.Dims[i] != dims {
		panic(fmt.Sprintf("histogram handle %d is not a %dD histogram", i, dims))
	}
}

// Fill1DHistogram adds weight w at x.
func (h *Histos) Fill1DHistogram(i int, x, w float64) {
	h.check(i, 1)
	n := int(h.NBins[i][0])
	b := locate(h.Edges[i], x) + 1
	b = min(max(b, 0), n+1)
	h.Contents[i][b] += w
	h.SumW2[i][b] += w * w
	h.Entries[i]++
}

// Fill3DHistogram adds weight w at (x, y, z).
func (h *Histos) Fill3DHistogram(i int, x, y, z, w float64) {
	h.check(i, 3)
	h.fillND(i, w, x, y, z)
}

// Fill4DHistogram adds weight w at (x, y, z) and energy e.
func (h *Histos) Fill4DHistogram(i int, x, y, z, e, w float64) {
	h.check(i, 4)
	h.fillND(i, w, x, y, z, e)
}

func (h *Histos) fillND(i int, w float64, coords ...float64) {
	h.Entries[i]++
	bin := 0
	for k, c := range coords {
		n := int(h.NBins[i][k])
		b := locate(h.axis(i, k), c)
		if b < 0 || b >= n {
			return
		}
		bin = bin*n + b
	}
	h.Contents[i][bin] += w
	h.SumW2[i][bin] += w * w
}

// Bin returns the content of a 1D histogram bin, with 0 the underflow.
func (h *Histos) Bin(i, b int) float64 { return h.Contents[i][b] }

// Bin3D returns the content of a 3D histogram bin.
func (h *Histos) Bin3D(i, ix, iy, iz int) float64 {
	ny, nz := int(h.NBins[i][1]), int(h.NBins[i][2])
	return h.Contents[i][(ix*ny+iy)*nz+iz]
}

// Bin4D returns the content of a 4D histogram bin.
func (h *Histos) Bin4D(i, ix, iy, iz, ie int) float64 {
	ny, nz, ne := int(h.NBins[i][1]), int(h.NBins[i][2]), int(h.NBins[i][3])
	return h.Contents[i][((ix*ny+iy)*nz+iz)*ne+ie]
}

func (h *Histos) sameBinning(i int, other *Histos, j int) bool {
	return h.Dims[i] == other.Dims[j] &&
		slices.Equal(h.NBins[i], other.NBins[j]) &&
		len(h.Edges[i]) == len(other.Edges[j]) &&
		floats.EqualApprox(h.Edges[i], other.Edges[j], 1e-12)
}

// AccumulateHistogram adds histogram j of other into histogram i.
func (h *Histos) AccumulateHistogram(i int, other *Histos, j int) error {
	if i < 0 || i >= h.Len() || j < 0 || j >= other.Len() {
		return fmt.Errorf("accumulating %d<-%d: %w", i, j, ErrNoHistogram)
	}
	if !h.sameBinning(i, other, j) {
		return fmt.Errorf("accumulating %q<-%q: %w", h.Names[i], other.Names[j], ErrBinningMismatch)
	}
	floats.Add(h.Contents[i], other.Contents[j])
	floats.Add(h.SumW2[i], other.SumW2[j])
	h.Entries[i] += other.Entries[j]
	return nil
}

func (h *Histos) accumulateDim(dims int32, i int, other *Histos, j int) error {
	if i >= 0 && i < h.Len() && h.Dims[i] != dims {
		return fmt.Errorf("histogram %q is %dD: %w", h.Names[i], h.Dims[i], ErrBinningMismatch)
	}
	return h.AccumulateHistogram(i, other, j)
}

func (h *Histos) Accumulate1DHistogram(i int, other *Histos, j int) error {
	return h.accumulateDim(1, i, other, j)
}

func (h *Histos) Accumulate3DHistogram(i int, other *Histos, j int) error {
	return h.accumulateDim(3, i, other, j)
}

func (h *Histos) Accumulate4DHistogram(i int, other *Histos, j int) error {
	return h.accumulateDim(4, i, other, j)
}

// AccumulateAll adds every histogram of other into the histogram with the
// same name, defining it first if this set does not have it.
func (h *Histos) AccumulateAll(other *Histos) error {
	for j, name := range other.Names {
		i, ok := h.byName[name]
		if !ok {
			var err error
			i, err = h.create(name, other.Titles[j], other.Dims[j], Scale(other.Scales[j]),
				slices.Clone(other.NBins[j]), slices.Clone(other.Edges[j]), len(other.Contents[j]))
			if err != nil {
				return err
			}
		}
		if err := h.AccumulateHistogram(i, other, j); err != nil {
			return err
		}
	}
	return nil
}

// FillFrom copy-assigns another set, definitions included.
func (h *Histos) FillFrom(other *Histos) {
	column.CopyFields(h.fields, other.fields)
	h.AfterLoad()
}

// AfterLoad rebuilds the name index.
func (h *Histos) AfterLoad() {
	clear(h.byName)
	for i, name := range h.Names {
		h.byName[name] = i
	}
}

// Integral returns the sum of in-range contents.
func (h *Histos) Integral(i int) float64 {
	c := h.Contents[i]
	if h.Dims[i] == 1 {
		return floats.Sum(c[1 : len(c)-1])
	}
	return floats.Sum(c)
}

// Error returns the statistical error of a bin.
func (h *Histos) Error(i, b int) float64 {
	return math.Sqrt(h.SumW2[i][b])
}

func (h *Histos) centres1D(i int) ([]float64, []float64) {
	e := h.Edges[i]
	n := len(e) - 1
	x := make([]float64, n)
	for k := range x {
		x[k] = 0.5 * (e[k] + e[k+1])
	}
	return x, h.Contents[i][1 : n+1]
}

// Mean1D returns the weighted mean of the in-range contents of a 1D
// histogram, or 0 when it is empty.
func (h *Histos) Mean1D(i int) float64 {
	h.check(i, 1)
	x, w := h.centres1D(i)
	if floats.Sum(w) == 0 {
		return 0
	}
	return stat.Mean(x, w)
}

// StdDev1D returns the population standard deviation of a 1D histogram.
func (h *Histos) StdDev1D(i int) float64 {
	h.check(i, 1)
	x, w := h.centres1D(i)
	if floats.Sum(w) == 0 {
		return 0
	}
	return stat.PopStdDev(x, w)
}
