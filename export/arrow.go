// Package export converts event branches to columnar formats for analysis
// outside the toolkit.
package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sirupsen/logrus"

	"github.com/beamrec/beamrec/column"
	"github.com/beamrec/beamrec/load"
)

// ErrNotBound is returned for a branch the loader does not read.
var ErrNotBound = errors.New("branch is not bound")

// BatchRows is the number of rows per Arrow record batch.
const BatchRows = 4096

// EventColumn is the name of the leading event index column.
const EventColumn = "event"

// flat is one record column mapped to one or three Arrow columns.
type flat struct {
	field column.Field
	first int
}

var arrowTypes = map[column.Kind]arrow.DataType{
	column.KindBool:    arrow.FixedWidthTypes.Boolean,
	column.KindInt32:   arrow.PrimitiveTypes.Int32,
	column.KindInt64:   arrow.PrimitiveTypes.Int64,
	column.KindUint32:  arrow.PrimitiveTypes.Uint32,
	column.KindFloat32: arrow.PrimitiveTypes.Float32,
	column.KindFloat64: arrow.PrimitiveTypes.Float64,
	column.KindString:  arrow.BinaryTypes.String,
	column.KindVec3:    arrow.PrimitiveTypes.Float64,
}

// Schema returns the Arrow schema WriteArrow produces for a record's
// fields. Vectors become three columns suffixed _x, _y and _z; nested
// columns are left out.
func Schema(fields []column.Field) *arrow.Schema {
	s, _ := flatten(fields)
	return s
}

func flatten(fields []column.Field) (*arrow.Schema, []flat) {
	out := []arrow.Field{{Name: EventColumn, Type: arrow.PrimitiveTypes.Int64}}
	var cols []flat
	for _, f := range fields {
		d := f.Desc()
		if d.Kind.IsNested() {
			continue
		}
		k := column.Element(d.Kind)
		cols = append(cols, flat{field: f, first: len(out)})
		if k == column.KindVec3 {
			for _, axis := range []string{"_x", "_y", "_z"} {
				out = append(out, arrow.Field{Name: d.Name + axis, Type: arrowTypes[k], Nullable: true})
			}
			continue
		}
		out = append(out, arrow.Field{Name: d.Name, Type: arrowTypes[k], Nullable: !d.Kind.IsScalar()})
	}
	return arrow.NewSchema(out, nil), cols
}

// rows returns the number of hits the record holds for the current event:
// the longest per-hit column, or one when the record has none.
func rows(cols []flat) int {
	n, perHit := 0, false
	for _, c := range cols {
		if !c.field.Desc().Kind.IsSlice() {
			continue
		}
		perHit = true
		n = max(n, sliceLen(c.field.Value()))
	}
	if !perHit {
		return 1
	}
	return n
}

func sliceLen(v any) int {
	switch v := v.(type) {
	case []bool:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []uint32:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []string:
		return len(v)
	case []column.Vec3:
		return len(v)
	}
	return 0
}

type appender[T any] interface {
	Append(T)
	AppendNull()
}

// put appends vs[row], or a null when a shorter optional column has no
// value at row.
func put[T any](b array.Builder, vs []T, row int) {
	a := b.(appender[T])
	if row < len(vs) {
		a.Append(vs[row])
		return
	}
	a.AppendNull()
}

func putVec(b *array.RecordBuilder, first int, vs []column.Vec3, row int) {
	if row >= len(vs) {
		for i := 0; i < 3; i++ {
			b.Field(first + i).AppendNull()
		}
		return
	}
	v := vs[row]
	b.Field(first).(*array.Float64Builder).Append(v.X)
	b.Field(first + 1).(*array.Float64Builder).Append(v.Y)
	b.Field(first + 2).(*array.Float64Builder).Append(v.Z)
}

func appendRow(b *array.RecordBuilder, c flat, row int) {
	f := b.Field(c.first)
	if c.field.Desc().Kind.IsScalar() {
		row = 0
	}
	switch v := c.field.Value().(type) {
	case bool:
		put(f, []bool{v}, row)
	case int32:
		put(f, []int32{v}, row)
	case int64:
		put(f, []int64{v}, row)
	case uint32:
		put(f, []uint32{v}, row)
	case float32:
		put(f, []float32{v}, row)
	case float64:
		put(f, []float64{v}, row)
	case string:
		put(f, []string{v}, row)
	case column.Vec3:
		putVec(b, c.first, []column.Vec3{v}, row)
	case []bool:
		put(f, v, row)
	case []int32:
		put(f, v, row)
	case []int64:
		put(f, v, row)
	case []uint32:
		put(f, v, row)
	case []float32:
		put(f, v, row)
	case []float64:
		put(f, v, row)
	case []string:
		put(f, v, row)
	case []column.Vec3:
		putVec(b, c.first, v, row)
	}
}

// WriteArrow writes one bound event branch of l as an Arrow IPC file, one
// row per hit. Per-event columns are repeated on every row of their event.
// It reads every entry of l and returns the number of rows written.
func WriteArrow(w io.Writer, l *load.Loader, branch string) (int64, error) {
	name, ok := l.Resolve(branch)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotBound, branch)
	}
	r, _ := l.Record(name)
	schema, cols := flatten(r.Fields())
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return 0, fmt.Errorf("creating arrow writer: %w", err)
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	var total int64
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		batch := b.NewRecord()
		defer batch.Release()
		pending = 0
		return fw.Write(batch)
	}

	for i := int64(0); i < l.NumberOfEvents(); i++ {
		if err := l.GetEntry(i); err != nil {
			fw.Close()
			return total, err
		}
		n := rows(cols)
		for row := 0; row < n; row++ {
			b.Field(0).(*array.Int64Builder).Append(i)
			for _, c := range cols {
				appendRow(b, c, row)
			}
		}
		pending += n
		total += int64(n)
		if pending >= BatchRows {
			if err := flush(); err != nil {
				fw.Close()
				return total, fmt.Errorf("writing arrow batch: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		fw.Close()
		return total, fmt.Errorf("writing arrow batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return total, fmt.Errorf("closing arrow writer: %w", err)
	}
	logrus.WithFields(logrus.Fields{"branch": branch, "rows": total, "columns": len(schema.Fields())}).Debug("branch exported")
	return total, nil
}
