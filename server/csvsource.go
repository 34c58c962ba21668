package server

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadSamples parses a CSV sample file. Records have the ParseLine layout;
// blank lines and lines starting with '#' are ignored.
func ReadSamples(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		smp, err := parseFields(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, smp)
	}
	return out, nil
}

// WriteSamples writes samples in the ReadSamples layout.
func WriteSamples(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	for _, s := range samples {
		if err := cw.Write(sampleFields(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Feed dispatches samples in order and stops at the first error.
func Feed(ctx context.Context, d *Dispatcher, samples []Sample) error {
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Dispatch(s); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}
