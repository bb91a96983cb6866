package store

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/metrics"
	"github.com/beamrec/beamrec/rec"
)

// Options configures a Writer.
type Options struct {
	Codec      Codec
	BasketSize int
}

func (o Options) basketSize() int {
	if o.BasketSize <= 0 {
		return DefaultBasketSize
	}
	return o.BasketSize
}

type branchWriter struct {
	info    BranchInfo
	record  rec.Record
	schema  *arrow.Schema
	builder *array.RecordBuilder
	// rows and estimated bytes of the open basket
	rows  int
	size  int
	first int64
}

type treeWriter struct {
	info     TreeInfo
	branches []*branchWriter
	byName   map[string]*branchWriter
}

// Writer creates a store file. Branches are declared before the first entry
// of their tree; every Fill then encodes the current state of the bound
// records as one new entry.
type Writer struct {
	path   string
	opts   Options
	f      *os.File
	w      *bufio.Writer
	off    int64
	trees  []*treeWriter
	byName map[string]*treeWriter
	mem    memory.Allocator
	err    error
	closed bool
}

// Create creates or truncates path and writes the preamble.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	w := &Writer{
		path:   path,
		opts:   opts,
		f:      f,
		w:      bufio.NewWriter(f),
		byName: make(map[string]*treeWriter),
		mem:    memory.NewGoAllocator(),
	}
	if err := w.write(preamble()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing preamble: %w", err)
	}
	return w, nil
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

func (w *Writer) write(b []byte) error {
	n, err := w.w.Write(b)
	w.off += int64(n)
	return err
}

func (w *Writer) tree(name string) *treeWriter {
	t, ok := w.byName[name]
	if !ok {
		t = &treeWriter{info: TreeInfo{Name: name}, byName: make(map[string]*branchWriter)}
		w.byName[name] = t
		w.trees = append(w.trees, t)
	}
	return t
}

// Branch declares a branch of tree bound to r. The record's column layout is
// captured now and never changes for the life of the file.
func (w *Writer) Branch(tree, name string, r rec.Record) error {
	if w.closed {
		return ErrClosed
	}
	t := w.tree(tree)
	if t.info.Entries > 0 {
		return fmt.Errorf("declaring %s/%s: %w", tree, name, ErrTreeStarted)
	}
	if _, ok := t.byName[name]; ok {
		return fmt.Errorf("declaring %s/%s: %w", tree, name, ErrDuplicateBranch)
	}
	cols := column.Descs(r.Fields())
	schema, err := column.Schema(cols)
	if err != nil {
		return fmt.Errorf("declaring %s/%s: %w", tree, name, err)
	}
	b := &branchWriter{
		info: BranchInfo{
			Name:    name,
			Kind:    r.Kind(),
			Version: r.Version(),
			Columns: cols,
		},
		record:  r,
		schema:  schema,
		builder: array.NewRecordBuilder(w.mem, schema),
	}
	t.byName[name] = b
	t.branches = append(t.branches, b)
	return nil
}

// Fill appends one entry to every branch of tree. Rows are appended to each
// branch's open record batch, which is written out as a basket once its
// estimated size reaches the basket size.
func (w *Writer) Fill(tree string) error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	t, ok := w.byName[tree]
	if !ok {
		return fmt.Errorf("filling %s: %w", tree, ErrNoTree)
	}
	for _, b := range t.branches {
		if p, ok := b.record.(rec.Preparer); ok {
			p.PrepareWrite()
		}
		fields := b.record.Fields()
		column.AppendRow(b.builder, fields)
		b.rows++
		b.size += column.RowSize(fields)
	}
	t.info.Entries++
	for _, b := range t.branches {
		if b.size >= w.opts.basketSize() {
			if err := w.flushBasket(b); err != nil {
				w.err = fmt.Errorf("filling %s: %w", tree, err)
				return w.err
			}
		}
	}
	return nil
}

// Entries returns the number of entries filled into tree.
func (w *Writer) Entries(tree string) int64 {
	if t, ok := w.byName[tree]; ok {
		return t.info.Entries
	}
	return 0
}

func (w *Writer) flushBasket(b *branchWriter) error {
	if b.rows == 0 {
		return nil
	}
	raw, err := w.encodeBatch(b)
	if err != nil {
		return err
	}
	stored, codec, err := compress(raw, w.opts.Codec)
	if err != nil {
		return err
	}
	info := BasketInfo{
		Offset:  w.off,
		Size:    len(stored),
		RawSize: len(raw),
		First:   b.first,
		N:       b.rows,
		Codec:   codec,
		CRC:     crc32.ChecksumIEEE(stored),
	}
	if err := w.write(stored); err != nil {
		return fmt.Errorf("writing basket: %w", err)
	}
	b.info.Baskets = append(b.info.Baskets, info)
	b.first += int64(b.rows)
	b.rows, b.size = 0, 0

	metrics.BasketsWritten.WithLabelValues(codec.String()).Inc()
	metrics.BytesWritten.WithLabelValues("raw").Add(float64(len(raw)))
	metrics.BytesWritten.WithLabelValues("stored").Add(float64(len(stored)))
	return nil
}

// encodeBatch drains the branch's builder into an Arrow IPC stream holding
// one record batch.
func (w *Writer) encodeBatch(b *branchWriter) ([]byte, error) {
	batch := b.builder.NewRecord()
	defer batch.Release()
	var buf bytes.Buffer
	iw := ipc.NewWriter(&buf, ipc.WithSchema(b.schema), ipc.WithAllocator(w.mem))
	if err := iw.Write(batch); err != nil {
		iw.Close()
		return nil, fmt.Errorf("encoding basket: %w", err)
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("encoding basket: %w", err)
	}
	return buf.Bytes(), nil
}

// Close flushes open baskets, writes the index and trailer and syncs the
// file to stable storage.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	err := w.finish()
	w.release()
	if cerr := w.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing store: %w", cerr)
	}
	return err
}

func (w *Writer) release() {
	for _, t := range w.trees {
		for _, b := range t.branches {
			b.builder.Release()
		}
	}
}

func (w *Writer) finish() error {
	if w.err != nil {
		return w.err
	}
	idx := Index{FormatVersion: formatVersion, Created: time.Now().UTC()}
	for _, t := range w.trees {
		for _, b := range t.branches {
			if err := w.flushBasket(b); err != nil {
				return err
			}
			t.info.Branches = append(t.info.Branches, b.info)
		}
		idx.Trees = append(idx.Trees, t.info)
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tr := trailer{
		indexOffset: uint64(w.off),
		indexLen:    uint64(len(data)),
		indexCRC:    crc32.ChecksumIEEE(data),
		version:     formatVersion,
		magic:       magic,
	}
	if err := w.write(data); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := w.write(tr.marshal()); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flushing store: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing store: %w", err)
	}
	logrus.WithFields(logrus.Fields{"file": w.path, "trees": len(w.trees), "bytes": w.off}).Debug("store closed")
	return nil
}

// UniquePath returns path if nothing exists there, otherwise the first free
// name of the form base-1.ext, base-2.ext, ...
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		p := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}
