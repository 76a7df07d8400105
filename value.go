package wasmexec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is a WebAssembly scalar type. The numeric values are the binary
// format encodings, so they convert directly to and from wazero's api.ValueType.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Valid reports whether t is one of the four scalar types.
func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

// ParseValueType parses "i32", "i64", "f32" or "f64".
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i32":
		return ValueTypeI32, nil
	case "i64":
		return ValueTypeI64, nil
	case "f32":
		return ValueTypeF32, nil
	case "f64":
		return ValueTypeF64, nil
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Value is a typed WebAssembly scalar. The zero Value has no type and is
// rejected by every call.
type Value struct {
	bits uint64
	typ  ValueType
}

func I32(v int32) Value   { return Value{typ: ValueTypeI32, bits: uint64(uint32(v))} }
func U32(v uint32) Value  { return Value{typ: ValueTypeI32, bits: uint64(v)} }
func I64(v int64) Value   { return Value{typ: ValueTypeI64, bits: uint64(v)} }
func U64(v uint64) Value  { return Value{typ: ValueTypeI64, bits: v} }
func F32(v float32) Value { return Value{typ: ValueTypeF32, bits: uint64(math.Float32bits(v))} }
func F64(v float64) Value { return Value{typ: ValueTypeF64, bits: math.Float64bits(v)} }

// FromRaw builds a Value from the engine's uint64 stack encoding.
func FromRaw(t ValueType, raw uint64) Value {
	switch t {
	case ValueTypeI32, ValueTypeF32:
		raw = uint64(uint32(raw))
	}
	return Value{typ: t, bits: raw}
}

func (v Value) Type() ValueType { return v.typ }

// Raw returns the engine's uint64 stack encoding.
func (v Value) Raw() uint64 { return v.bits }

func (v Value) Int32() int32     { return int32(uint32(v.bits)) }
func (v Value) Uint32() uint32   { return uint32(v.bits) }
func (v Value) Int64() int64     { return int64(v.bits) }
func (v Value) Uint64() uint64   { return v.bits }
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// Any returns the natural Go value: int32, int64, float32 or float64.
func (v Value) Any() any {
	switch v.typ {
	case ValueTypeI32:
		return v.Int32()
	case ValueTypeI64:
		return v.Int64()
	case ValueTypeF32:
		return v.Float32()
	case ValueTypeF64:
		return v.Float64()
	}
	return nil
}

// String renders the value in the "type:value" form accepted by ParseValue.
func (v Value) String() string {
	switch v.typ {
	case ValueTypeI32:
		return "i32:" + strconv.FormatInt(int64(v.Int32()), 10)
	case ValueTypeI64:
		return "i64:" + strconv.FormatInt(v.Int64(), 10)
	case ValueTypeF32:
		return "f32:" + strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case ValueTypeF64:
		return "f64:" + strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	}
	return "<invalid>"
}

// ParseValue parses the "type:value" form, e.g. "i32:10" or "f64:-2.5".
func ParseValue(s string) (Value, error) {
	typ, lit, ok := strings.Cut(s, ":")
	if !ok {
		return Value{}, fmt.Errorf("value %q: expected type:value", s)
	}
	t, err := ParseValueType(typ)
	if err != nil {
		return Value{}, err
	}
	return ParseValueAs(t, lit)
}

// ParseValueAs parses a literal as type t. Integers accept both the signed and
// the unsigned range of their width; hex literals are accepted with 0x.
func ParseValueAs(t ValueType, lit string) (Value, error) {
	lit = strings.TrimSpace(lit)
	switch t {
	case ValueTypeI32:
		if n, err := strconv.ParseInt(lit, 0, 32); err == nil {
			return I32(int32(n)), nil
		}
		n, err := strconv.ParseUint(lit, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse i32 %q: %w", lit, err)
		}
		return U32(uint32(n)), nil
	case ValueTypeI64:
		if n, err := strconv.ParseInt(lit, 0, 64); err == nil {
			return I64(n), nil
		}
		n, err := strconv.ParseUint(lit, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse i64 %q: %w", lit, err)
		}
		return U64(n), nil
	case ValueTypeF32:
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse f32 %q: %w", lit, err)
		}
		return F32(float32(f)), nil
	case ValueTypeF64:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse f64 %q: %w", lit, err)
		}
		return F64(f), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %s", t)
}

// ValueOf converts a Go scalar into a Value. Only fixed-width types are
// accepted so the WebAssembly type is never guessed.
func ValueOf(x any) (Value, bool) {
	switch v := x.(type) {
	case Value:
		return v, v.typ.Valid()
	case int32:
		return I32(v), true
	case uint32:
		return U32(v), true
	case int64:
		return I64(v), true
	case uint64:
		return U64(v), true
	case float32:
		return F32(v), true
	case float64:
		return F64(v), true
	}
	return Value{}, false
}

// Signature describes the parameter and result types of a function.
type Signature struct {
	Params  []ValueType
	Results []ValueType
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString("func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	switch len(s.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(s.Results[0].String())
	default:
		b.WriteString(" -> (")
		for i, r := range s.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}
