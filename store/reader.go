package store

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/metrics"
	"github.com/beamrec/beamrec/rec"
)

// Reader gives random access to the entries of a store file. Only enabled
// branches with a bound record are read from disk.
type Reader struct {
	path      string
	f         *os.File
	index     Index
	trees     map[string]*Tree
	bytesRead int64
}

// Tree is one tree of an open file.
type Tree struct {
	r        *Reader
	info     *TreeInfo
	branches []*Branch
	byName   map[string]*Branch
}

// Branch is one branch of an open tree.
type Branch struct {
	info    *BranchInfo
	enabled bool
	record  rec.Record
	layout  *column.Layout

	// the most recently loaded basket
	cached int
	batch  arrow.Record
}

// Open reads the trailer and index of a store file.
func Open(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	r := &Reader{path: name, f: f, trees: make(map[string]*Tree)}
	if err := r.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return r, nil
}

func (r *Reader) readIndex() error {
	st, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < preambleSize+trailerSize {
		return ErrNotStoreFile
	}
	pre := make([]byte, preambleSize)
	if _, err := r.f.ReadAt(pre, 0); err != nil {
		return err
	}
	if !bytes.Equal(pre[:4], preamble()[:4]) {
		return ErrNotStoreFile
	}
	tb := make([]byte, trailerSize)
	if _, err := r.f.ReadAt(tb, size-trailerSize); err != nil {
		return err
	}
	tr := unmarshalTrailer(tb)
	if tr.magic != magic {
		return ErrNotStoreFile
	}
	if tr.version != formatVersion {
		return fmt.Errorf("%w: format version %d", ErrNotStoreFile, tr.version)
	}
	if tr.indexOffset+tr.indexLen > uint64(size-trailerSize) {
		return fmt.Errorf("%w: index out of bounds", ErrCorrupt)
	}
	data := make([]byte, tr.indexLen)
	if _, err := r.f.ReadAt(data, int64(tr.indexOffset)); err != nil && err != io.EOF {
		return err
	}
	if crc32.ChecksumIEEE(data) != tr.indexCRC {
		return fmt.Errorf("%w: index checksum", ErrCorrupt)
	}
	if err := json.Unmarshal(data, &r.index); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i := range r.index.Trees {
		ti := &r.index.Trees[i]
		t := &Tree{r: r, info: ti, byName: make(map[string]*Branch)}
		for j := range ti.Branches {
			b := &Branch{info: &ti.Branches[j], enabled: true, cached: -1}
			t.branches = append(t.branches, b)
			t.byName[b.info.Name] = b
		}
		r.trees[ti.Name] = t
	}
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }

// Index returns the file index.
func (r *Reader) Index() Index { return r.index }

// Tree returns a tree by name.
func (r *Reader) Tree(name string) (*Tree, bool) {
	t, ok := r.trees[name]
	return t, ok
}

// TreeNames returns the tree names in file order.
func (r *Reader) TreeNames() []string {
	out := make([]string, 0, len(r.index.Trees))
	for _, t := range r.index.Trees {
		out = append(out, t.Name)
	}
	return out
}

// BytesRead returns the number of basket bytes read from disk so far.
func (r *Reader) BytesRead() int64 { return r.bytesRead }

// Close releases cached baskets and closes the file.
func (r *Reader) Close() error {
	for _, t := range r.trees {
		for _, b := range t.branches {
			b.drop()
		}
	}
	return r.f.Close()
}

func (b *Branch) drop() {
	if b.batch != nil {
		b.batch.Release()
		b.batch = nil
	}
	b.cached = -1
}

func (t *Tree) Name() string   { return t.info.Name }
func (t *Tree) Entries() int64 { return t.info.Entries }

// BranchNames returns the branch names in declaration order.
func (t *Tree) BranchNames() []string {
	out := make([]string, len(t.branches))
	for i, b := range t.branches {
		out[i] = b.info.Name
	}
	return out
}

// Branches returns the descriptors of every branch.
func (t *Tree) Branches() []BranchInfo {
	out := make([]BranchInfo, len(t.branches))
	for i, b := range t.branches {
		out[i] = *b.info
	}
	return out
}

// Branch returns the descriptor of one branch.
func (t *Tree) Branch(name string) (BranchInfo, bool) {
	b, ok := t.byName[name]
	if !ok {
		return BranchInfo{}, false
	}
	return *b.info, true
}

// SetBranchStatus enables or disables every branch whose name matches the
// glob pattern. It returns the number of branches matched.
func (t *Tree) SetBranchStatus(pattern string, on bool) int {
	n := 0
	for _, b := range t.branches {
		if ok, _ := path.Match(pattern, b.info.Name); ok {
			b.enabled = on
			n++
		}
	}
	return n
}

// Enabled reports whether a branch is enabled.
func (t *Tree) Enabled(name string) bool {
	b, ok := t.byName[name]
	return ok && b.enabled
}

// SetBranchAddress binds r to a branch and enables it. Entries are decoded
// into r on GetEntry; columns r does not declare are skipped and columns the
// file lacks keep their reset value.
func (t *Tree) SetBranchAddress(name string, r rec.Record) error {
	b, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("binding %s/%s: %w", t.info.Name, name, ErrBranchNotFound)
	}
	if b.info.Kind != r.Kind() {
		return fmt.Errorf("binding %s/%s: %w: stored %s, record %s",
			t.info.Name, name, ErrKindMismatch, b.info.Kind, r.Kind())
	}
	l, err := column.NewLayout(r.Fields(), b.info.Columns)
	if err != nil {
		return fmt.Errorf("binding %s/%s: %w", t.info.Name, name, err)
	}
	if missing := l.Missing(); len(missing) > 0 {
		logrus.WithFields(logrus.Fields{
			"tree": t.info.Name, "branch": name, "stored_version": b.info.Version, "missing": missing,
		}).Debug("branch lacks columns, leaving them empty")
	}
	b.record, b.layout, b.enabled = r, l, true
	return nil
}

// GetEntry decodes entry i into every enabled, bound branch.
func (t *Tree) GetEntry(i int64) error {
	if i < 0 || i >= t.info.Entries {
		return fmt.Errorf("reading %s entry %d of %d: %w", t.info.Name, i, t.info.Entries, ErrEntryOutOfRange)
	}
	for _, b := range t.branches {
		if !b.enabled || b.record == nil {
			continue
		}
		if err := t.r.readEntry(b, i); err != nil {
			return fmt.Errorf("reading %s/%s entry %d: %w", t.info.Name, b.info.Name, i, err)
		}
	}
	return nil
}

func (r *Reader) readEntry(b *Branch, i int64) error {
	baskets := b.info.Baskets
	k := sort.Search(len(baskets), func(j int) bool {
		return baskets[j].First+int64(baskets[j].N) > i
	})
	if k == len(baskets) || baskets[k].First > i {
		return ErrEntryOutOfRange
	}
	if b.cached != k {
		if err := r.loadBasket(b, k); err != nil {
			return err
		}
	}
	row := int(i - baskets[k].First)
	b.record.Flush()
	b.layout.Load(b.batch, row)
	if l, ok := b.record.(rec.Loaded); ok {
		l.AfterLoad()
	}
	return nil
}

func (r *Reader) loadBasket(b *Branch, k int) error {
	info := b.info.Baskets[k]
	stored := make([]byte, info.Size)
	if _, err := r.f.ReadAt(stored, info.Offset); err != nil {
		return fmt.Errorf("reading basket: %w", err)
	}
	r.bytesRead += int64(info.Size)
	metrics.BytesRead.Add(float64(info.Size))
	if crc32.ChecksumIEEE(stored) != info.CRC {
		return fmt.Errorf("%w: basket checksum", ErrCorrupt)
	}
	raw, err := decompress(stored, info.Codec, info.RawSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	batch, err := decodeBatch(raw)
	if err != nil {
		return err
	}
	if int(batch.NumRows()) != info.N {
		batch.Release()
		return fmt.Errorf("%w: basket holds %d rows, index says %d", ErrCorrupt, batch.NumRows(), info.N)
	}
	if err := b.layout.Check(batch.Schema()); err != nil {
		batch.Release()
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	b.drop()
	b.cached, b.batch = k, batch
	return nil
}

// decodeBatch reads the single record batch of a basket payload.
func decodeBatch(raw []byte) (arrow.Record, error) {
	rd, err := ipc.NewReader(bytes.NewReader(raw), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rd.Release()
	if !rd.Next() {
		if err := rd.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("%w: empty basket", ErrCorrupt)
	}
	batch := rd.Record()
	batch.Retain()
	return batch, nil
}
