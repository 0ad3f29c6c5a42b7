package tensor

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNumElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape []int64
		want  int64
	}{
		{nil, 1},
		{[]int64{}, 1},
		{[]int64{3}, 3},
		{[]int64{2, 3, 4}, 24},
		{[]int64{5, 0}, 0},
	}
	for _, tc := range tests {
		got, err := NumElements(tc.shape)
		if err != nil {
			t.Fatalf("NumElements(%v): %v", tc.shape, err)
		}
		if got != tc.want {
			t.Errorf("NumElements(%v) = %d, want %d", tc.shape, got, tc.want)
		}
	}

	if _, err := NumElements([]int64{-1}); err == nil {
		t.Error("expected error for negative dim")
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	t.Parallel()
	v, err := NewFloat32([]int64{2, 2}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	if v.DType() != Float32 {
		t.Fatalf("dtype = %s", v.DType())
	}
	if v.NumElements() != 4 {
		t.Fatalf("elements = %d", v.NumElements())
	}
	got, err := v.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := v.Int32s(); err == nil {
		t.Fatal("Int32s on a float32 tensor should fail")
	}
}

func TestFromRawLengthMismatch(t *testing.T) {
	t.Parallel()
	if _, err := FromRaw(Float32, []int64{2}, make([]byte, 7)); err == nil {
		t.Fatal("expected error for short payload")
	}
	if _, err := FromRaw(String, []int64{1}, nil); err == nil {
		t.Fatal("expected error wrapping raw payload as string")
	}
}

func TestEncodeNumericIsRawPayload(t *testing.T) {
	t.Parallel()
	v, err := NewInt32([]int64{3}, []int32{-1, 0, 7})
	if err != nil {
		t.Fatalf("NewInt32: %v", err)
	}
	out, err := v.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(out, v.RawData()) {
		t.Fatal("numeric encoding should be the raw payload")
	}
	if v.ByteLen() != int64(len(out)) {
		t.Fatalf("ByteLen = %d, encoded %d", v.ByteLen(), len(out))
	}
}

func TestEncodeString(t *testing.T) {
	t.Parallel()
	v, err := NewString([]int64{2}, []string{"ab", ""})
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	out, err := v.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// count, then (len, bytes) per element
	if int64(len(out)) != v.ByteLen() {
		t.Fatalf("encoded %d bytes, ByteLen says %d", len(out), v.ByteLen())
	}
	if n := binary.LittleEndian.Uint32(out); n != 2 {
		t.Fatalf("element count = %d, want 2", n)
	}
	if l := binary.LittleEndian.Uint32(out[4:]); l != 2 {
		t.Fatalf("first element length = %d, want 2", l)
	}
	if string(out[8:10]) != "ab" {
		t.Fatalf("first element bytes = %q", out[8:10])
	}
	if l := binary.LittleEndian.Uint32(out[10:]); l != 0 {
		t.Fatalf("second element length = %d, want 0", l)
	}
}

func TestNewStringShapeMismatch(t *testing.T) {
	t.Parallel()
	if _, err := NewString([]int64{3}, []string{"only", "two"}); err == nil {
		t.Fatal("expected error for element count mismatch")
	}
}

func TestDTypeProtoNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dtype DType
		proto string
	}{
		{Float32, "DT_FLOAT"},
		{Int32, "DT_INT32"},
		{Int64, "DT_INT64"},
		{Bool, "DT_BOOL"},
		{String, "DT_STRING"},
		{Resource, "DT_RESOURCE"},
	}
	for _, tc := range tests {
		if got := tc.dtype.ProtoName(); got != tc.proto {
			t.Errorf("%s.ProtoName() = %q, want %q", tc.dtype, got, tc.proto)
		}
		parsed, err := ParseProtoName(tc.proto)
		if err != nil {
			t.Fatalf("ParseProtoName(%q): %v", tc.proto, err)
		}
		if parsed != tc.dtype {
			t.Errorf("ParseProtoName(%q) = %s, want %s", tc.proto, parsed, tc.dtype)
		}
	}

	if _, err := ParseProtoName("DT_BANANA"); err == nil {
		t.Error("expected error for unknown proto name")
	}
}

func TestElemSize(t *testing.T) {
	t.Parallel()
	if Float32.ElemSize() != 4 || Int64.ElemSize() != 8 || Bool.ElemSize() != 1 {
		t.Fatal("unexpected element sizes")
	}
}
