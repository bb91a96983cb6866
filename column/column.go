// Package column binds typed, named columns to record struct fields.
//
// A record declares its persisted layout as a list of Fields, each pointing
// at one of the record's own struct members. The list is built once when the
// record is constructed, so the stored layout of every entry a record writes
// is exactly the layout it declared. Entries are stored as rows of Arrow
// record batches whose schema follows the declared columns.
package column

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Kind is the semantic type of a column.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindFloat32
	KindFloat64
	KindString
	KindVec3
	KindBools
	KindInt32s
	KindInt64s
	KindUint32s
	KindFloat32s
	KindFloat64s
	KindStrings
	KindVec3s
	KindInt32ss
	KindFloat64ss
	KindVec3ss
)

var kindNames = map[Kind]string{
	KindBool:      "bool",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindUint32:    "uint32",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindString:    "string",
	KindVec3:      "vec3",
	KindBools:     "[]bool",
	KindInt32s:    "[]int32",
	KindInt64s:    "[]int64",
	KindUint32s:   "[]uint32",
	KindFloat32s:  "[]float32",
	KindFloat64s:  "[]float64",
	KindStrings:   "[]string",
	KindVec3s:     "[]vec3",
	KindInt32ss:   "[][]int32",
	KindFloat64ss: "[][]float64",
	KindVec3ss:    "[][]vec3",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsScalar reports whether the kind holds exactly one value per entry.
func (k Kind) IsScalar() bool { return k >= KindBool && k <= KindVec3 }

// IsSlice reports whether the kind holds one value per row.
func (k Kind) IsSlice() bool { return k >= KindBools && k <= KindVec3s }

// IsNested reports whether the kind holds a vector per row.
func (k Kind) IsNested() bool { return k >= KindInt32ss && k <= KindVec3ss }

// Vec3 is a 3-vector column value.
type Vec3 struct {
	X, Y, Z float64
}

// Desc names and types a column.
type Desc struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

func (d Desc) String() string { return d.Name + ":" + d.Kind.String() }

// Field is a column bound to storage.
type Field interface {
	Desc() Desc
	// Append appends the value as one row of b, a builder of the column's
	// DataType.
	Append(b array.Builder)
	// Load sets the value from row i of a.
	Load(a arrow.Array, i int)
	// Size estimates the stored bytes of the value.
	Size() int
	// Reset clears the value, keeping slice capacity.
	Reset()
	// CopyFrom copy-assigns the value of another field of the same kind.
	CopyFrom(other Field) bool
	// Value returns the bound value ([]float64, int32, ...).
	Value() any
}

type scalar[T any] struct {
	desc Desc
	p    *T
	c    codec[T]
}

func (f *scalar[T]) Desc() Desc                { return f.desc }
func (f *scalar[T]) Append(b array.Builder)    { f.c.put(b, *f.p) }
func (f *scalar[T]) Load(a arrow.Array, i int) { *f.p = f.c.get(a, i) }
func (f *scalar[T]) Size() int                 { return f.c.size(*f.p) }
func (f *scalar[T]) Value() any                { return *f.p }

func (f *scalar[T]) Reset() {
	var zero T
	*f.p = zero
}

func (f *scalar[T]) CopyFrom(other Field) bool {
	o, ok := other.(*scalar[T])
	if !ok {
		return false
	}
	*f.p = *o.p
	return true
}

type slice[T any] struct {
	desc Desc
	p    *[]T
	c    codec[T]
}

func (f *slice[T]) Desc() Desc { return f.desc }
func (f *slice[T]) Value() any { return *f.p }
func (f *slice[T]) Reset()     { *f.p = (*f.p)[:0] }

func (f *slice[T]) Append(b array.Builder) {
	l := b.(*array.ListBuilder)
	l.Append(true)
	vb := l.ValueBuilder()
	for _, v := range *f.p {
		f.c.put(vb, v)
	}
}

func (f *slice[T]) Load(a arrow.Array, i int) {
	values, start, end := listRange(a, i)
	s := (*f.p)[:0]
	for j := start; j < end; j++ {
		s = append(s, f.c.get(values, j))
	}
	*f.p = s
}

func (f *slice[T]) Size() int {
	n := 4
	for _, v := range *f.p {
		n += f.c.size(v)
	}
	return n
}

func (f *slice[T]) CopyFrom(other Field) bool {
	o, ok := other.(*slice[T])
	if !ok {
		return false
	}
	*f.p = append((*f.p)[:0], *o.p...)
	return true
}

type nested[T any] struct {
	desc Desc
	p    *[][]T
	c    codec[T]
}

func (f *nested[T]) Desc() Desc { return f.desc }
func (f *nested[T]) Value() any { return *f.p }
func (f *nested[T]) Reset()     { *f.p = (*f.p)[:0] }

func (f *nested[T]) Append(b array.Builder) {
	outer := b.(*array.ListBuilder)
	outer.Append(true)
	inner := outer.ValueBuilder().(*array.ListBuilder)
	for _, vs := range *f.p {
		inner.Append(true)
		vb := inner.ValueBuilder()
		for _, v := range vs {
			f.c.put(vb, v)
		}
	}
}

func (f *nested[T]) Load(a arrow.Array, i int) {
	rows, start, end := listRange(a, i)
	outer := (*f.p)[:0]
	for j := start; j < end; j++ {
		values, s, e := listRange(rows, j)
		inner := make([]T, 0, e-s)
		for k := s; k < e; k++ {
			inner = append(inner, f.c.get(values, k))
		}
		outer = append(outer, inner)
	}
	*f.p = outer
}

func (f *nested[T]) Size() int {
	n := 4
	for _, vs := range *f.p {
		n += 4
		for _, v := range vs {
			n += f.c.size(v)
		}
	}
	return n
}

func (f *nested[T]) CopyFrom(other Field) bool {
	o, ok := other.(*nested[T])
	if !ok {
		return false
	}
	outer := (*f.p)[:0]
	for _, inner := range *o.p {
		outer = append(outer, append([]T(nil), inner...))
	}
	*f.p = outer
	return true
}

func Bool(name string, p *bool) Field {
	return &scalar[bool]{Desc{name, KindBool}, p, boolCodec}
}

func Int32(name string, p *int32) Field {
	return &scalar[int32]{Desc{name, KindInt32}, p, int32Codec}
}

func Int64(name string, p *int64) Field {
	return &scalar[int64]{Desc{name, KindInt64}, p, int64Codec}
}

func Uint32(name string, p *uint32) Field {
	return &scalar[uint32]{Desc{name, KindUint32}, p, uint32Codec}
}

func Float32(name string, p *float32) Field {
	return &scalar[float32]{Desc{name, KindFloat32}, p, float32Codec}
}

func Float64(name string, p *float64) Field {
	return &scalar[float64]{Desc{name, KindFloat64}, p, float64Codec}
}

func String(name string, p *string) Field {
	return &scalar[string]{Desc{name, KindString}, p, stringCodec}
}

func Vector(name string, p *Vec3) Field {
	return &scalar[Vec3]{Desc{name, KindVec3}, p, vec3Codec}
}

func Bools(name string, p *[]bool) Field {
	return &slice[bool]{Desc{name, KindBools}, p, boolCodec}
}

func Int32s(name string, p *[]int32) Field {
	return &slice[int32]{Desc{name, KindInt32s}, p, int32Codec}
}

func Int64s(name string, p *[]int64) Field {
	return &slice[int64]{Desc{name, KindInt64s}, p, int64Codec}
}

func Uint32s(name string, p *[]uint32) Field {
	return &slice[uint32]{Desc{name, KindUint32s}, p, uint32Codec}
}

func Float32s(name string, p *[]float32) Field {
	return &slice[float32]{Desc{name, KindFloat32s}, p, float32Codec}
}

func Float64s(name string, p *[]float64) Field {
	return &slice[float64]{Desc{name, KindFloat64s}, p, float64Codec}
}

func Strings(name string, p *[]string) Field {
	return &slice[string]{Desc{name, KindStrings}, p, stringCodec}
}

func Vectors(name string, p *[]Vec3) Field {
	return &slice[Vec3]{Desc{name, KindVec3s}, p, vec3Codec}
}

func Int32ss(name string, p *[][]int32) Field {
	return &nested[int32]{Desc{name, KindInt32ss}, p, int32Codec}
}

func Float64ss(name string, p *[][]float64) Field {
	return &nested[float64]{Desc{name, KindFloat64ss}, p, float64Codec}
}

func Vectorss(name string, p *[][]Vec3) Field {
	return &nested[Vec3]{Desc{name, KindVec3ss}, p, vec3Codec}
}

// New returns a field of the described kind with its own storage. It is used
// to skip columns a record does not know and to read columns generically.
func New(desc Desc) (Field, error) {
	name := desc.Name
	switch desc.Kind {
	case KindBool:
		return Bool(name, new(bool)), nil
	case KindInt32:
		return Int32(name, new(int32)), nil
	case KindInt64:
		return Int64(name, new(int64)), nil
	case KindUint32:
		return Uint32(name, new(uint32)), nil
	case KindFloat32:
		return Float32(name, new(float32)), nil
	case KindFloat64:
		return Float64(name, new(float64)), nil
	case KindString:
		return String(name, new(string)), nil
	case KindVec3:
		return Vector(name, new(Vec3)), nil
	case KindBools:
		return Bools(name, new([]bool)), nil
	case KindInt32s:
		return Int32s(name, new([]int32)), nil
	case KindInt64s:
		return Int64s(name, new([]int64)), nil
	case KindUint32s:
		return Uint32s(name, new([]uint32)), nil
	case KindFloat32s:
		return Float32s(name, new([]float32)), nil
	case KindFloat64s:
		return Float64s(name, new([]float64)), nil
	case KindStrings:
		return Strings(name, new([]string)), nil
	case KindVec3s:
		return Vectors(name, new([]Vec3)), nil
	case KindInt32ss:
		return Int32ss(name, new([][]int32)), nil
	case KindFloat64ss:
		return Float64ss(name, new([][]float64)), nil
	case KindVec3ss:
		return Vectorss(name, new([][]Vec3)), nil
	}
	return nil, fmt.Errorf("column %q: unsupported kind %v", name, desc.Kind)
}

// Descs returns the descriptors of fields in order.
func Descs(fields []Field) []Desc {
	out := make([]Desc, len(fields))
	for i, f := range fields {
		out[i] = f.Desc()
	}
	return out
}

// Has reports whether descs contains a column called name.
func Has(descs []Desc, name string) bool {
	for _, d := range descs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// ResetAll resets every field.
func ResetAll(fields []Field) {
	for _, f := range fields {
		f.Reset()
	}
}

// CopyFields copy-assigns every field of src into the field of dst with the
// same name and kind. It returns the number of columns copied.
func CopyFields(dst, src []Field) int {
	byName := make(map[string]Field, len(src))
	for _, f := range src {
		byName[f.Desc().Name] = f
	}
	n := 0
	for _, f := range dst {
		o, ok := byName[f.Desc().Name]
		if !ok {
			f.Reset()
			continue
		}
		if f.CopyFrom(o) {
			n++
		}
	}
	return n
}
