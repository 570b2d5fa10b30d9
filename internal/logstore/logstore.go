// Package logstore implements the append-only JSON Lines files the queue is
// built on. Every record is one JSON object followed by a newline.
//
// Readers never fail on a malformed line: it is dropped and the next line is
// read as usual, so a torn or corrupted write cannot wedge a consumer.
package logstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Record is a decoded line together with its 0-based line index.
type Record[T any] struct {
	Line  int
	Value T
}

// Append serializes v as one line and appends it to path, creating the file
// and its parent directories when needed. The line is written with a single
// write on an O_APPEND descriptor.
func Append(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}

	return nil
}

// Reset creates path as an empty file, truncating any existing content.
func Reset(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("failed to reset %s: %w", path, err)
	}
	return nil
}

// ReadAll returns every decodable record in path.
func ReadAll[T any](path string) ([]Record[T], error) {
	return ReadFrom[T](path, 0)
}

// ReadFrom returns the decodable records whose line index is >= from, in
// file order. A missing file yields no records and no error. Blank lines are
// not counted as lines.
func ReadFrom[T any](path string, from int) ([]Record[T], error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	var records []Record[T]
	r := bufio.NewReader(f)
	line := 0
	for {
		raw, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("failed to read log %s: %w", path, readErr)
		}

		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 {
			if line >= from {
				var v T
				if err := json.Unmarshal(raw, &v); err == nil {
					records = append(records, Record[T]{Line: line, Value: v})
				}
			}
			line++
		}

		if readErr != nil {
			break
		}
	}

	return records, nil
}
