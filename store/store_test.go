package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/hits"
	"github.com/beamrec/beamrec/rec"
)

func samplerHit(i int) hits.SamplerHit {
	return hits.SamplerHit{
		Position:    column.Vec3{X: float64(i), Y: -float64(i)},
		Direction:   column.Vec3{Z: 1},
		S:           1000,
		TotalEnergy: 10 + float64(i),
		Weight:      1,
		PDG:         2212,
		TrackID:     int32(i),
	}
}

// writeEvents writes n events of a plane sampler and a loss branch, with
// event i holding i+1 sampler rows.
func writeEvents(t *testing.T, path string, opts Options, n int) {
	t.Helper()
	w, err := Create(path, opts)
	require.NoError(t, err)

	s := rec.NewSampler(hits.Plane, rec.SamplerOptions{})
	l := rec.NewLoss(rec.LossOptions{})
	require.NoError(t, w.Branch("Event", "d1.", s))
	require.NoError(t, w.Branch("Event", "Eloss.", l))
	for i := 0; i < n; i++ {
		s.Flush()
		l.Flush()
		for j := 0; j <= i; j++ {
			s.Fill(samplerHit(j))
		}
		l.Fill(hits.EnergyDeposit{Energy: float64(i), S: 500, Weight: 1})
		require.NoError(t, w.Fill("Event"))
	}
	require.NoError(t, w.Close())
}

func TestStore_RoundTrip_AllCodecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			// GIVEN a file written with small baskets
			path := filepath.Join(t.TempDir(), "run.bdr")
			writeEvents(t, path, Options{Codec: codec, BasketSize: 512}, 40)

			// WHEN entries are read back out of order
			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()
			tree, ok := r.Tree("Event")
			require.True(t, ok)
			assert.Equal(t, int64(40), tree.Entries())

			s := rec.NewSampler(hits.Plane, rec.SamplerOptions{})
			require.NoError(t, tree.SetBranchAddress("d1.", s))
			for _, i := range []int64{39, 0, 17, 18, 3} {
				require.NoError(t, tree.GetEntry(i))
				// THEN each entry has exactly its own rows
				assert.Equal(t, int32(i+1), s.N, "entry %d", i)
				assert.Equal(t, 10+float64(i), s.Energy[i])
				assert.Equal(t, 1.0, s.S)
			}

			info, ok := tree.Branch("d1.")
			require.True(t, ok)
			assert.Greater(t, len(info.Baskets), 1)
		})
	}
}

func TestStore_CompressibleData_UsesCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.bdr")
	writeEvents(t, path, Options{Codec: CodecZstd}, 50)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Event")
	info, _ := tree.Branch("d1.")

	require.NotEmpty(t, info.Baskets)
	assert.Equal(t, CodecZstd, info.Baskets[0].Codec)
	assert.Less(t, info.StoredSize(), info.RawSize())
}

func TestStore_BasketsAreArrowBatches(t *testing.T) {
	// GIVEN an uncompressed file
	path := filepath.Join(t.TempDir(), "run.bdr")
	writeEvents(t, path, Options{Codec: CodecNone}, 5)
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Event")
	info, _ := tree.Branch("d1.")
	require.Len(t, info.Baskets, 1)

	// WHEN the basket bytes are handed to a plain Arrow IPC reader
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	bk := info.Baskets[0]
	rd, err := ipc.NewReader(bytes.NewReader(data[bk.Offset : bk.Offset+int64(bk.Size)]))
	require.NoError(t, err)
	defer rd.Release()
	require.True(t, rd.Next())
	batch := rd.Record()

	// THEN it holds one row per entry with one column per stored column
	assert.Equal(t, int64(5), batch.NumRows())
	require.Equal(t, len(info.Columns), int(batch.NumCols()))
	for i, c := range info.Columns {
		assert.Equal(t, c.Name, batch.ColumnName(i))
	}
	energy := batch.Column(slices.IndexFunc(info.Columns, func(d column.Desc) bool { return d.Name == "energy" }))
	list := energy.(*array.List)
	start, end := list.ValueOffsets(4)
	assert.Equal(t, int64(5), end-start)
}

func TestStore_CorruptBasket_Rejected(t *testing.T) {
	// GIVEN a file whose loss basket was overwritten
	path := filepath.Join(t.TempDir(), "run.bdr")
	writeEvents(t, path, Options{Codec: CodecNone}, 2)
	r, err := Open(path)
	require.NoError(t, err)
	tree, _ := r.Tree("Event")
	l := rec.NewLoss(rec.LossOptions{})
	require.NoError(t, tree.SetBranchAddress("Eloss.", l))
	info, _ := tree.Branch("Eloss.")
	bk := info.Baskets[0]
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r.Close()
	for i := bk.Offset; i < bk.Offset+int64(bk.Size); i++ {
		data[i] = 0xff
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// WHEN the entry is read
	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ = r.Tree("Event")
	require.NoError(t, tree.SetBranchAddress("Eloss.", rec.NewLoss(rec.LossOptions{})))

	// THEN it is reported as corrupt
	assert.True(t, errors.Is(tree.GetEntry(0), ErrCorrupt))
}

func TestStore_DisabledBranches_NotRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.bdr")
	writeEvents(t, path, Options{Codec: CodecNone}, 20)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Event")

	// GIVEN everything disabled and only the loss branch bound
	assert.Equal(t, 2, tree.SetBranchStatus("*", false))
	l := rec.NewLoss(rec.LossOptions{})
	require.NoError(t, tree.SetBranchAddress("Eloss.", l))
	assert.False(t, tree.Enabled("d1."))

	// WHEN every entry is read
	for i := int64(0); i < tree.Entries(); i++ {
		require.NoError(t, tree.GetEntry(i))
		assert.Equal(t, float64(i), l.Energy[0])
	}

	// THEN only the loss baskets were touched
	loss, _ := tree.Branch("Eloss.")
	assert.Equal(t, loss.StoredSize(), r.BytesRead())
}

func TestStore_SetBranchAddress_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.bdr")
	writeEvents(t, path, Options{}, 1)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Event")

	err = tree.SetBranchAddress("nope", rec.NewLoss(rec.LossOptions{}))
	assert.True(t, errors.Is(err, ErrBranchNotFound))
	err = tree.SetBranchAddress("d1.", rec.NewLoss(rec.LossOptions{}))
	assert.True(t, errors.Is(err, ErrKindMismatch))
	err = tree.GetEntry(1)
	assert.True(t, errors.Is(err, ErrEntryOutOfRange))
}

func TestStore_HeaderTwoRows(t *testing.T) {
	// GIVEN a header written at open and again at close with final counts
	path := filepath.Join(t.TempDir(), "run.bdr")
	w, err := Create(path, Options{})
	require.NoError(t, err)
	h := rec.NewHeader()
	require.NoError(t, w.Branch("Header", "Header.", h))
	h.Fill(6, rec.FileTypeSimulation, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, w.Fill("Header"))
	h.SetCounts(0, 100, 98, 2)
	require.NoError(t, w.Fill("Header"))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Header")
	got := rec.NewHeader()
	require.NoError(t, tree.SetBranchAddress("Header.", got))

	// THEN the first row has the static metadata and the last the counts
	require.NoError(t, tree.GetEntry(0))
	first := *got
	assert.Equal(t, int64(0), first.NEventsInFile)
	assert.Equal(t, rec.ToolVersion, first.ToolVersion)

	require.NoError(t, tree.GetEntry(tree.Entries()-1))
	assert.Equal(t, int64(98), got.NEventsInFile)
	assert.Equal(t, int64(2), got.NEventsInFileSkipped)
	assert.Equal(t, first.FileID, got.FileID)
	assert.Equal(t, first.TimeStamp, got.TimeStamp)
}

func TestStore_BranchAfterFill_Rejected(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "run.bdr"), Options{})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Branch("Event", "a", rec.NewCoords()))
	require.NoError(t, w.Fill("Event"))

	err = w.Branch("Event", "b", rec.NewCoords())
	assert.True(t, errors.Is(err, ErrTreeStarted))
	err = w.Branch("Model", "a", rec.NewCoords())
	assert.NoError(t, err)
	err = w.Branch("Model", "a", rec.NewCoords())
	assert.True(t, errors.Is(err, ErrDuplicateBranch))
	assert.True(t, errors.Is(w.Fill("Run"), ErrNoTree))
}

func TestStore_CloseTwice(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "run.bdr"), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.True(t, errors.Is(w.Close(), ErrClosed))
	assert.True(t, errors.Is(w.Fill("Event"), ErrClosed))
}

func TestOpen_RejectsForeignAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	foreign := filepath.Join(dir, "foreign.bdr")
	require.NoError(t, os.WriteFile(foreign, make([]byte, 64), 0o644))
	_, err := Open(foreign)
	assert.True(t, errors.Is(err, ErrNotStoreFile))

	path := filepath.Join(dir, "run.bdr")
	writeEvents(t, path, Options{}, 3)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// flip a byte inside the index
	data[len(data)-trailerSize-5] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestStore_ExtraStoredColumns_Skipped(t *testing.T) {
	// GIVEN a sampler written with derived columns
	path := filepath.Join(t.TempDir(), "run.bdr")
	w, err := Create(path, Options{})
	require.NoError(t, err)
	src := rec.NewSampler(hits.Plane, rec.SamplerOptions{StoreCharge: true, StoreRigidity: true})
	require.NoError(t, w.Branch("Event", "d1.", src))
	src.Fill(samplerHit(2))
	src.FillExtras(rec.DefaultParticleData())
	require.NoError(t, w.Fill("Event"))
	require.NoError(t, w.Close())

	// WHEN read into a sampler that does not declare them
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	tree, _ := r.Tree("Event")
	dst := rec.NewSampler(hits.Plane, rec.SamplerOptions{})
	require.NoError(t, tree.SetBranchAddress("d1.", dst))
	require.NoError(t, tree.GetEntry(0))

	// THEN the shared columns decode correctly
	assert.Equal(t, src.X, dst.X)
	assert.Equal(t, src.Energy, dst.Energy)
	assert.Equal(t, src.TrackID, dst.TrackID)
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "run.bdr")
	assert.Equal(t, base, UniquePath(base))

	require.NoError(t, os.WriteFile(base, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "run-1.bdr"), UniquePath(base))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-1.bdr"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "run-2.bdr"), UniquePath(base))
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("lz4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)
	_, err = ParseCodec("snappy")
	assert.Error(t, err)

	var u Codec
	require.NoError(t, u.UnmarshalText([]byte("zstd")))
	assert.Equal(t, CodecZstd, u)
}
