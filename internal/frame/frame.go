// Package frame turns a single composite file into an output record.
package frame

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/lox/nimrodsync/internal/extract"
	"github.com/lox/nimrodsync/internal/geo"
	"github.com/lox/nimrodsync/internal/nimrod"
)

// Record is one line of an output file.
type Record struct {
	Data       [][]float64  `json:"data"`
	Timestamp  time.Time    `json:"timestamp"`
	Timestamps [2]time.Time `json:"timestamps"` // data time, validity time

	SizeFull   geo.Size `json:"size_full"`
	Size       geo.Size `json:"size"`
	CountTotal int      `json:"count_total"`
	Count      int      `json:"count"`

	BoundsFull    geo.Bounds `json:"bounds_full"`
	BoundsExtract *geo.Box   `json:"bounds_extract,omitempty"`
}

// NewRecord builds the record for a decoded frame and its extracted area.
func NewRecord(frame *nimrod.Frame, area *extract.Area) *Record {
	h := frame.Header
	return &Record{
		Data:          area.Data,
		Timestamp:     h.ValidityTime,
		Timestamps:    [2]time.Time{h.DataTime, h.ValidityTime},
		SizeFull:      area.Full,
		Size:          area.Size,
		CountTotal:    area.Full.Count(),
		Count:         area.Size.Count(),
		BoundsFull:    h.Bounds,
		BoundsExtract: area.Box,
	}
}

// Ingestor decodes and optionally crops composite files.
type Ingestor struct {
	extractor *extract.Extractor
	box       *geo.Box
}

// NewIngestor returns an Ingestor that crops to box, or passes frames
// through when box is nil.
func NewIngestor(extractor *extract.Extractor, box *geo.Box) *Ingestor {
	return &Ingestor{extractor: extractor, box: box}
}

// IngestFile reads the composite file at path, which may be gzipped.
func (i *Ingestor) IngestFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return i.Ingest(f)
}

// Ingest reads one composite file from r. It returns extract.ErrEmpty when
// the crop rectangle is empty.
func (i *Ingestor) Ingest(r io.Reader) (*Record, error) {
	src, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	frame, err := nimrod.Decode(src)
	if err != nil {
		return nil, err
	}
	area, err := i.extractor.Extract(frame, i.box)
	if err != nil {
		return nil, err
	}
	return NewRecord(frame, area), nil
}

// DecodeFile decodes the composite file at path, which may be gzipped,
// without cropping it.
func DecodeFile(path string) (*nimrod.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, closeFn, err := maybeGunzip(f)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return nimrod.Decode(src)
}

// maybeGunzip sniffs the gzip magic number and decompresses when present.
func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		// Short inputs fall through to the decoder, which reports them.
		return br, func() {}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("gunzip: %w", err)
	}
	return bufio.NewReader(zr), func() { zr.Close() }, nil
}

// WriteLine encodes rec as a single JSON line.
func WriteLine(w io.Writer, rec *Record) error {
	return json.NewEncoder(w).Encode(rec)
}
