// Package artifact reads and writes sample dumps: one "<index> <real> <imag>"
// line per sample, index from 0, no header.
package artifact

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Write dumps samples to w.
func Write(w io.Writer, samples []complex64) error {
	bw := bufio.NewWriter(w)
	for i, s := range samples {
		if _, err := fmt.Fprintf(bw, "%d %.6g %.6g\n", i, real(s), imag(s)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile creates or truncates path and dumps samples to it.
func WriteFile(path string, samples []complex64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close artifact: %w", cerr)
		}
	}()
	if err := Write(f, samples); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// Read parses a dump. Indices must run from 0 in order.
func Read(r io.Reader) ([]complex64, error) {
	var out []complex64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(fields))
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: index: %w", line, err)
		}
		if idx != len(out) {
			return nil, fmt.Errorf("line %d: index %d out of order, want %d", line, idx, len(out))
		}
		re, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: real: %w", line, err)
		}
		im, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: imag: %w", line, err)
		}
		out = append(out, complex(float32(re), float32(im)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFile parses the dump at path.
func ReadFile(path string) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return samples, nil
}
