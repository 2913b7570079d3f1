// Package nimrodtest builds synthetic composite files for tests.
package nimrodtest

import (
	"bytes"
	"encoding/binary"
	"time"
)

// File describes a composite file to encode. The zero value is not
// useful; start from New.
type File struct {
	GenInt   [31]int16
	GenReal  [28]float32
	SpecReal [45]float32
	Units    string
	Source   string
	Title    string
	SpecInt  [51]int16

	// Raw payload values in row-major order.
	Raw []int64

	// Overrides for the framing lengths. Zero means use the correct value.
	HeaderSize      uint32
	HeaderSizeAgain uint32
	DataSize        uint32
	DataSizeAgain   uint32
}

// New returns a 2-byte integer radar composite of rows x cols whose grid
// spans the given northing/easting rectangle.
func New(validity time.Time, rows, cols int, top, left, bottom, right float32) *File {
	f := &File{Units: "mm/h*32", Source: "ukmo-nimrod", Title: "Rainfall rate Composite"}
	f.SetValidity(validity)
	f.GenInt[11] = 1
	f.GenInt[12] = 2
	f.GenInt[15] = int16(rows)
	f.GenInt[16] = int16(cols)
	f.GenInt[18] = 213
	f.GenInt[29] = 2
	f.SpecReal[0], f.SpecReal[1] = top, left
	f.SpecReal[2], f.SpecReal[3] = top, right
	f.SpecReal[4], f.SpecReal[5] = bottom, right
	f.SpecReal[6], f.SpecReal[7] = bottom, left
	f.Raw = make([]int64, rows*cols)
	return f
}

// SetValidity writes both timestamps.
func (f *File) SetValidity(t time.Time) {
	vals := []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
	for i, v := range vals {
		f.GenInt[i] = int16(v)
	}
	for i, v := range vals[:5] {
		f.GenInt[6+i] = int16(v)
	}
}

// SetLegacyOrigin clears the corner block and sets origin and spacing.
func (f *File) SetLegacyOrigin(northing, rowInterval, easting, colInterval float32) {
	for i := range 8 {
		f.SpecReal[i] = -32767
	}
	f.GenReal[2], f.GenReal[3] = northing, rowInterval
	f.GenReal[4], f.GenReal[5] = easting, colInterval
}

// Bytes encodes the file.
func (f *File) Bytes() []byte {
	var hdr bytes.Buffer
	w := func(v any) { _ = binary.Write(&hdr, binary.BigEndian, v) }
	w(f.GenInt)
	w(f.GenReal)
	w(f.SpecReal)
	hdr.Write(pad(f.Units, 8))
	hdr.Write(pad(f.Source, 24))
	hdr.Write(pad(f.Title, 24))
	w(f.SpecInt)

	width := int(f.GenInt[12])
	payload := make([]byte, 0, len(f.Raw)*width)
	for _, v := range f.Raw {
		payload = appendSigned(payload, v, width)
	}

	var out bytes.Buffer
	u32 := func(v, def uint32) {
		if v == 0 {
			v = def
		}
		_ = binary.Write(&out, binary.BigEndian, v)
	}
	u32(f.HeaderSize, uint32(hdr.Len()))
	out.Write(hdr.Bytes())
	u32(f.HeaderSizeAgain, uint32(hdr.Len()))
	u32(f.DataSize, uint32(len(payload)))
	out.Write(payload)
	u32(f.DataSizeAgain, uint32(len(payload)))
	return out.Bytes()
}

func pad(s string, n int) []byte {
	b := bytes.Repeat([]byte{' '}, n)
	copy(b, s)
	return b
}

func appendSigned(b []byte, v int64, width int) []byte {
	switch width {
	case 1:
		return append(b, byte(int8(v)))
	case 2:
		return binary.BigEndian.AppendUint16(b, uint16(int16(v)))
	case 4:
		return binary.BigEndian.AppendUint32(b, uint32(int32(v)))
	default:
		return binary.BigEndian.AppendUint64(b, uint64(v))
	}
}
