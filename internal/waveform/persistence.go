package waveform

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
)

// The interchange format between the acquisition collaborator and the scan
// pipeline: a gob+gzip file holding a flat segment list. Deliberately dumb,
// since archive formats, responses, and quality control stay on the
// acquisition side.

// serializeSegments compresses a segment list using gob encoding and gzip
// compression.
func serializeSegments(segs []*Segment) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(segs); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeSegments decompresses and decodes a segment list.
func deserializeSegments(blob []byte) ([]*Segment, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty segment blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var segs []*Segment
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&segs); err != nil {
		return nil, fmt.Errorf("failed to decode segments: %w", err)
	}
	return segs, nil
}

// WriteSegments writes a segment list to path.
func WriteSegments(path string, segs []*Segment) error {
	for _, s := range segs {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	blob, err := serializeSegments(segs)
	if err != nil {
		return fmt.Errorf("serialize segments: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write segments: %w", err)
	}
	return nil
}

// ReadSegments reads a segment list written by WriteSegments.
func ReadSegments(path string) ([]*Segment, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}
	segs, err := deserializeSegments(blob)
	if err != nil {
		return nil, fmt.Errorf("segment file %s: %w", path, err)
	}
	for _, s := range segs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("segment file %s: %w", path, err)
		}
	}
	return segs, nil
}
