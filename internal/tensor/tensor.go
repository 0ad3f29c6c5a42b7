// Package tensor holds immutable typed tensor values and their binary
// serialization. Numeric payloads are stored (and serialized) as fixed-width
// little-endian element sequences; string tensors serialize as an element
// count followed by a length-prefixed UTF-8 byte sequence per element.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Value is an immutable typed, shaped array. The zero Value is invalid;
// construct values through the New* helpers or FromRaw.
type Value struct {
	dtype DType
	shape []int64
	data  []byte   // little-endian payload, nil for String/Resource
	strs  [][]byte // per-element bytes, String only
}

// NumElements returns the product of the dims in shape. A scalar (empty
// shape) has one element.
func NumElements(shape []int64) (int64, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: negative dim %d", d)
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, errors.New("tensor: shape overflow")
		}
		n *= d
	}
	return n, nil
}

// FromRaw wraps a little-endian payload as a Value. The payload length must
// match the element count for the dtype; the buffer is retained, not copied.
func FromRaw(dtype DType, shape []int64, raw []byte) (*Value, error) {
	if !dtype.Valid() || dtype == String || dtype == Resource {
		return nil, fmt.Errorf("tensor: cannot wrap raw payload as %s", dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if want := n * int64(dtype.ElemSize()); int64(len(raw)) != want {
		return nil, fmt.Errorf("tensor: payload is %d bytes, want %d for %s%v", len(raw), want, dtype, shape)
	}
	return &Value{dtype: dtype, shape: cloneShape(shape), data: raw}, nil
}

// NewFloat32 builds a float32 tensor from vals in row-major order.
func NewFloat32(shape []int64, vals []float32) (*Value, error) {
	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return FromRaw(Float32, shape, raw)
}

// NewInt32 builds an int32 tensor from vals in row-major order.
func NewInt32(shape []int64, vals []int32) (*Value, error) {
	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}
	return FromRaw(Int32, shape, raw)
}

// NewInt64 builds an int64 tensor from vals in row-major order.
func NewInt64(shape []int64, vals []int64) (*Value, error) {
	raw := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return FromRaw(Int64, shape, raw)
}

// NewBool builds a bool tensor, one byte per element.
func NewBool(shape []int64, vals []bool) (*Value, error) {
	raw := make([]byte, len(vals))
	for i, v := range vals {
		if v {
			raw[i] = 1
		}
	}
	return FromRaw(Bool, shape, raw)
}

// NewString builds a string tensor. Element bytes are copied.
func NewString(shape []int64, vals []string) (*Value, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(vals)) != n {
		return nil, fmt.Errorf("tensor: %d string elements, want %d", len(vals), n)
	}
	strs := make([][]byte, len(vals))
	for i, s := range vals {
		strs[i] = []byte(s)
	}
	return &Value{dtype: String, shape: cloneShape(shape), strs: strs}, nil
}

func (v *Value) DType() DType   { return v.dtype }
func (v *Value) Shape() []int64 { return cloneShape(v.shape) }

// NumElements returns the element count of v.
func (v *Value) NumElements() int64 {
	n, _ := NumElements(v.shape)
	return n
}

// ByteLen is the serialized length of v in bytes (what Encode will produce).
func (v *Value) ByteLen() int64 {
	if v.dtype == String {
		n := int64(4)
		for _, s := range v.strs {
			n += 4 + int64(len(s))
		}
		return n
	}
	return int64(len(v.data))
}

// Encode appends the serialized form of v to dst and returns the result.
// Numeric tensors append the raw little-endian payload. String tensors append
// a uint32 element count, then per element a uint32 byte length and the bytes.
func (v *Value) Encode(dst []byte) ([]byte, error) {
	switch v.dtype {
	case String:
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(v.strs)))
		dst = append(dst, hdr[:]...)
		for _, s := range v.strs {
			binary.LittleEndian.PutUint32(hdr[:], uint32(len(s)))
			dst = append(dst, hdr[:]...)
			dst = append(dst, s...)
		}
		return dst, nil
	case Resource:
		return nil, errors.New("tensor: resource values have no serialized form")
	default:
		return append(dst, v.data...), nil
	}
}

// Float32s decodes the payload as float32 elements.
func (v *Value) Float32s() ([]float32, error) {
	if v.dtype != Float32 {
		return nil, fmt.Errorf("tensor: value is %s, not float32", v.dtype)
	}
	out := make([]float32, len(v.data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(v.data[i*4:]))
	}
	return out, nil
}

// Int32s decodes the payload as int32 elements.
func (v *Value) Int32s() ([]int32, error) {
	if v.dtype != Int32 {
		return nil, fmt.Errorf("tensor: value is %s, not int32", v.dtype)
	}
	out := make([]int32, len(v.data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(v.data[i*4:]))
	}
	return out, nil
}

// Int64s decodes the payload as int64 elements.
func (v *Value) Int64s() ([]int64, error) {
	if v.dtype != Int64 {
		return nil, fmt.Errorf("tensor: value is %s, not int64", v.dtype)
	}
	out := make([]int64, len(v.data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(v.data[i*8:]))
	}
	return out, nil
}

// Bools decodes the payload as bool elements.
func (v *Value) Bools() ([]bool, error) {
	if v.dtype != Bool {
		return nil, fmt.Errorf("tensor: value is %s, not bool", v.dtype)
	}
	out := make([]bool, len(v.data))
	for i, b := range v.data {
		out[i] = b != 0
	}
	return out, nil
}

// Strings decodes the elements of a string tensor.
func (v *Value) Strings() ([]string, error) {
	if v.dtype != String {
		return nil, fmt.Errorf("tensor: value is %s, not string", v.dtype)
	}
	out := make([]string, len(v.strs))
	for i, s := range v.strs {
		out[i] = string(s)
	}
	return out, nil
}

// RawData exposes the little-endian payload of a numeric tensor.
// Callers must not mutate the returned slice.
func (v *Value) RawData() []byte { return v.data }

func cloneShape(shape []int64) []int64 {
	if shape == nil {
		return nil
	}
	out := make([]int64, len(shape))
	copy(out, shape)
	return out
}
