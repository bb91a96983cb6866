package column

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// vec3Type stores a Vec3 as a struct of three float64 children.
var vec3Type = arrow.StructOf(
	arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "z", Type: arrow.PrimitiveTypes.Float64},
)

var elementTypes = map[Kind]arrow.DataType{
	KindBool:    arrow.FixedWidthTypes.Boolean,
	KindInt32:   arrow.PrimitiveTypes.Int32,
	KindInt64:   arrow.PrimitiveTypes.Int64,
	KindUint32:  arrow.PrimitiveTypes.Uint32,
	KindFloat32: arrow.PrimitiveTypes.Float32,
	KindFloat64: arrow.PrimitiveTypes.Float64,
	KindString:  arrow.BinaryTypes.String,
	KindVec3:    vec3Type,
}

// Element returns the kind of one value of k: k itself for scalars, the
// element kind for slices and nested slices.
func Element(k Kind) Kind {
	switch {
	case k.IsSlice():
		return k - KindBools + KindBool
	case k == KindInt32ss:
		return KindInt32
	case k == KindFloat64ss:
		return KindFloat64
	case k == KindVec3ss:
		return KindVec3
	}
	return k
}

// DataType returns the Arrow type a column of kind k is stored as: the
// element type for scalars, a list of it for slices and a list of lists for
// nested slices.
func DataType(k Kind) (arrow.DataType, error) {
	t, ok := elementTypes[Element(k)]
	if !ok {
		return nil, fmt.Errorf("unsupported kind %v", k)
	}
	switch {
	case k.IsSlice():
		return arrow.ListOf(t), nil
	case k.IsNested():
		return arrow.ListOf(arrow.ListOf(t)), nil
	}
	return t, nil
}

// Schema returns the Arrow schema of an entry stored with descs, one field
// per column in declaration order.
func Schema(descs []Desc) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(descs))
	for i, d := range descs {
		t, err := DataType(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", d.Name, err)
		}
		fields[i] = arrow.Field{Name: d.Name, Type: t}
	}
	return arrow.NewSchema(fields, nil), nil
}

type appender[T any] interface {
	Append(T)
}

type valuer[T any] interface {
	Value(int) T
}

// codec moves single values of T between Go and Arrow.
type codec[T any] struct {
	put  func(array.Builder, T)
	get  func(arrow.Array, int) T
	size func(T) int
}

func primitive[T any](width int) codec[T] {
	return codec[T]{
		put:  func(b array.Builder, v T) { b.(appender[T]).Append(v) },
		get:  func(a arrow.Array, i int) T { return a.(valuer[T]).Value(i) },
		size: func(T) int { return width },
	}
}

var (
	boolCodec    = primitive[bool](1)
	int32Codec   = primitive[int32](4)
	int64Codec   = primitive[int64](8)
	uint32Codec  = primitive[uint32](4)
	float32Codec = primitive[float32](4)
	float64Codec = primitive[float64](8)

	stringCodec = codec[string]{
		put:  func(b array.Builder, v string) { b.(*array.StringBuilder).Append(v) },
		get:  func(a arrow.Array, i int) string { return a.(*array.String).Value(i) },
		size: func(v string) int { return len(v) + 4 },
	}

	vec3Codec = codec[Vec3]{
		put: func(b array.Builder, v Vec3) {
			s := b.(*array.StructBuilder)
			s.Append(true)
			s.FieldBuilder(0).(*array.Float64Builder).Append(v.X)
			s.FieldBuilder(1).(*array.Float64Builder).Append(v.Y)
			s.FieldBuilder(2).(*array.Float64Builder).Append(v.Z)
		},
		get: func(a arrow.Array, i int) Vec3 {
			s := a.(*array.Struct)
			return Vec3{
				X: s.Field(0).(*array.Float64).Value(i),
				Y: s.Field(1).(*array.Float64).Value(i),
				Z: s.Field(2).(*array.Float64).Value(i),
			}
		},
		size: func(Vec3) int { return 24 },
	}
)

// listRange returns the child array and the value range of row i of a list.
func listRange(a arrow.Array, i int) (arrow.Array, int, int) {
	l := a.(*array.List)
	start, end := l.ValueOffsets(i)
	return l.ListValues(), int(start), int(end)
}

// AppendRow appends the current values of fields as one row of b. The
// builder's schema must be Schema(Descs(fields)).
func AppendRow(b *array.RecordBuilder, fields []Field) {
	for i, f := range fields {
		f.Append(b.Field(i))
	}
}

// RowSize estimates the bytes one row of fields adds to a record batch.
func RowSize(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.Size()
	}
	return n
}
