package nimrod

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Scale is the storage scale factor of integer payloads.
const Scale = 32

// maxPayload guards against allocating for a corrupt length field.
const maxPayload = 256 << 20

// FormatError reports a malformed or unsupported file.
type FormatError struct {
	Field string
	Msg   string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nimrod: %s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("nimrod: %s: %s", e.Field, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErrorf(field, format string, args ...any) *FormatError {
	return &FormatError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Frame is a decoded file. Data is indexed [row][col].
type Frame struct {
	Header *Header
	Data   [][]float64
}

// DecodeFile decodes the file at path.
func DecodeFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Decode reads one composite file from r.
func Decode(r io.Reader) (*Frame, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	again, err := readLength(r, "header_size_again")
	if err != nil {
		return nil, err
	}
	if again != HeaderSize {
		return nil, formatErrorf("header_size_again", "got %d, want %d", again, HeaderSize)
	}

	dataSize, err := readLength(r, "data_size")
	if err != nil {
		return nil, err
	}
	want := h.Rows * h.Cols * h.DataWidth
	if int64(dataSize) < int64(want) {
		return nil, formatErrorf("data_size", "%d bytes cannot hold %dx%d elements of %d bytes", dataSize, h.Rows, h.Cols, h.DataWidth)
	}
	if dataSize > maxPayload {
		return nil, formatErrorf("data_size", "%d bytes exceeds limit", dataSize)
	}

	payload := make([]byte, dataSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FormatError{Field: "payload", Msg: "truncated", Err: err}
	}

	dataAgain, err := readLength(r, "data_size_again")
	if err != nil {
		return nil, err
	}
	if dataAgain != dataSize {
		return nil, formatErrorf("data_size_again", "got %d, want %d", dataAgain, dataSize)
	}

	return &Frame{Header: h, Data: decodePayload(payload, h)}, nil
}

// DecodeHeader reads only the header of a composite file.
func DecodeHeader(r io.Reader) (*Header, error) {
	size, err := readLength(r, "header_size")
	if err != nil {
		return nil, err
	}
	if size != HeaderSize {
		return nil, formatErrorf("header_size", "got %d, want %d", size, HeaderSize)
	}
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &FormatError{Field: "header", Msg: "truncated", Err: err}
	}
	return parseHeader(buf)
}

func readLength(r io.Reader, field string) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, &FormatError{Field: field, Msg: "truncated", Err: err}
	}
	return n, nil
}

func decodePayload(payload []byte, h *Header) [][]float64 {
	w := h.DataWidth
	data := make([][]float64, h.Rows)
	off := 0
	for row := range data {
		data[row] = make([]float64, h.Cols)
		for col := range data[row] {
			raw := readSigned(payload[off:off+w], w)
			off += w
			data[row][col] = max(float64(raw)/Scale, 0)
		}
	}
	return data
}

func readSigned(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}
