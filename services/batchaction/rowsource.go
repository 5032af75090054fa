package batchaction

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// RowSource yields the raw rows matching a selection.
type RowSource interface {
	// Stream returns a lazy sequence of rows. A non-nil error in the
	// sequence means the stream broke and no further rows follow.
	Stream(ctx context.Context, sel SelectionQuery) (iter.Seq2[any, error], error)
	Count(ctx context.Context, sel SelectionQuery) (int64, error)
}

// PostgresEventsSource reads the events table as JSON objects.
type PostgresEventsSource struct {
	db *sql.DB
}

// NewPostgresEventsSource creates a source over the events table.
func NewPostgresEventsSource(db *sql.DB) *PostgresEventsSource {
	return &PostgresEventsSource{db: db}
}

// Count returns the number of matching rows.
func (s *PostgresEventsSource) Count(ctx context.Context, sel SelectionQuery) (int64, error) {
	where, args, err := buildEventsWhere(sel)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Stream validates the selection now and runs the query on first iteration.
func (s *PostgresEventsSource) Stream(ctx context.Context, sel SelectionQuery) (iter.Seq2[any, error], error) {
	where, args, err := buildEventsWhere(sel)
	if err != nil {
		return nil, err
	}
	query := "SELECT to_jsonb(e) FROM events e WHERE " + where + " ORDER BY start_time DESC, id"

	return func(yield func(any, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				yield(nil, fmt.Errorf("failed to scan event row: %w", err))
				return
			}
			if !yield(decodeRow(data), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read events: %w", err))
		}
	}, nil
}

// decodeRow decodes one JSON document keeping numbers exact. Undecodable
// input is returned as a string so the normalizer rejects it per record.
func decodeRow(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(data)
	}
	return v
}

// JSONLinesSource reads exported observations, one JSON object per line.
// Exports are already a selection, so the query is not re-applied.
type JSONLinesSource struct {
	open func() (io.ReadCloser, error)
}

// NewJSONLinesFile creates a source reading path.
func NewJSONLinesFile(path string) *JSONLinesSource {
	return &JSONLinesSource{open: func() (io.ReadCloser, error) {
		return os.Open(path)
	}}
}

// NewJSONLinesBytes creates a source over an in-memory export.
func NewJSONLinesBytes(data []byte) *JSONLinesSource {
	return &JSONLinesSource{open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// Count returns the number of non-blank lines.
func (s *JSONLinesSource) Count(ctx context.Context, sel SelectionQuery) (int64, error) {
	seq, err := s.Stream(ctx, sel)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, err := range seq {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Stream implements RowSource. The returned sequence can be consumed once.
func (s *JSONLinesSource) Stream(ctx context.Context, _ SelectionQuery) (iter.Seq2[any, error], error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}

	return func(yield func(any, error) bool) {
		defer rc.Close()

		r := bufio.NewReader(rc)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			line, err := r.ReadBytes('\n')
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				if !yield(decodeRow(trimmed), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read export: %w", err))
				return
			}
		}
	}, nil
}

// SliceSource serves fixed rows. Err, when set, is yielded after the rows.
type SliceSource struct {
	Rows []any
	Err  error
}

// Count implements RowSource.
func (s *SliceSource) Count(context.Context, SelectionQuery) (int64, error) {
	return int64(len(s.Rows)), nil
}

// Stream implements RowSource.
func (s *SliceSource) Stream(context.Context, SelectionQuery) (iter.Seq2[any, error], error) {
	return func(yield func(any, error) bool) {
		for _, row := range s.Rows {
			if !yield(row, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(nil, s.Err)
		}
	}, nil
}
