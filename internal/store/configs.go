package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/mbfit/internal/ir"
)

// Add validates and inserts a configuration, returning its fresh id.
//
// num_atoms, num_fragments and geometry_hash are derived here and never
// change afterwards. The tag is NFC normalised.
func (s *Store) Add(ctx context.Context, g ir.Geometry, tag string) (string, error) {
	if err := g.Validate(); err != nil {
		return "", &ValidationError{Field: "geometry", Message: err.Error()}
	}

	blob, err := marshalGeometry(g)
	if err != nil {
		return "", fmt.Errorf("add configuration: %w", err)
	}

	id := s.ids.Generate()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO configurations
		(id, geometry_blob, geometry_hash, num_atoms, num_fragments, tag)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		id,
		blob,
		ir.GeometryHash(g),
		g.NumAtoms(),
		g.NumFragments(),
		ir.NormalizeLabel(tag),
	)
	if err != nil {
		return "", fmt.Errorf("add configuration: %w", err)
	}

	return id, nil
}

// Get retrieves a configuration by id.
// Returns *NotFoundError if absent.
func (s *Store) Get(ctx context.Context, id string) (ir.Configuration, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT seq, id, geometry_blob, geometry_hash, num_atoms, num_fragments, tag
		FROM configurations
		WHERE id = ?
	`), id)

	_, cfg, err := scanConfiguration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Configuration{}, &NotFoundError{Kind: "configuration", ID: id}
	}
	if err != nil {
		return ir.Configuration{}, fmt.Errorf("get configuration: %w", err)
	}
	return cfg, nil
}

// List returns the configurations whose tag matches, in insertion order.
//
// The sequence is lazy and restartable: it pages through the table in
// batches keyed on seq and each iteration starts from the beginning.
func (s *Store) List(ctx context.Context, tag ir.Pattern[string]) iter.Seq2[ir.Configuration, error] {
	return func(yield func(ir.Configuration, error) bool) {
		var after int64
		for {
			batch, last, err := s.listBatch(ctx, tag, after)
			if err != nil {
				yield(ir.Configuration{}, err)
				return
			}
			for _, cfg := range batch {
				if !yield(cfg, nil) {
					return
				}
			}
			if len(batch) < s.batch {
				return
			}
			after = last
		}
	}
}

func (s *Store) listBatch(ctx context.Context, tag ir.Pattern[string], after int64) ([]ir.Configuration, int64, error) {
	var w where
	w.raw("seq > ?", after)
	w.text("tag", normalizedTag(tag))

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT seq, id, geometry_blob, geometry_hash, num_atoms, num_fragments, tag
		FROM configurations`+w.sql()+`
		ORDER BY seq ASC
		LIMIT ?
	`), append(w.args, s.batch)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	var out []ir.Configuration
	last := after
	for rows.Next() {
		seq, cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list configurations: %w", err)
		}
		out = append(out, cfg)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate configurations: %w", err)
	}
	return out, last, nil
}

// Retag replaces a configuration's tag. Idempotent; energy records are not
// touched. Returns *NotFoundError for an unknown id.
func (s *Store) Retag(ctx context.Context, id, tag string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE configurations SET tag = ? WHERE id = ?
	`), ir.NormalizeLabel(tag), id)
	if err != nil {
		return fmt.Errorf("retag configuration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retag configuration: rows affected: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Kind: "configuration", ID: id}
	}
	return nil
}

// FindByHash returns the id of the oldest configuration with the given
// geometry hash and tag. Used by importers to skip duplicates on re-runs.
func (s *Store) FindByHash(ctx context.Context, hash, tag string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id FROM configurations
		WHERE geometry_hash = ? AND tag = ?
		ORDER BY seq ASC
		LIMIT 1
	`), hash, ir.NormalizeLabel(tag)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find configuration by hash: %w", err)
	}
	return id, true, nil
}

// CountConfigurations returns the number of configurations whose tag matches.
func (s *Store) CountConfigurations(ctx context.Context, tag ir.Pattern[string]) (int, error) {
	var w where
	w.text("tag", normalizedTag(tag))

	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM configurations`+w.sql()), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count configurations: %w", err)
	}
	return n, nil
}

func normalizedTag(p ir.Pattern[string]) ir.Pattern[string] {
	if p.IsAny() {
		return p
	}
	return ir.Exact(ir.NormalizeLabel(p.Value()))
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(r rowScanner) (int64, ir.Configuration, error) {
	var (
		seq  int64
		cfg  ir.Configuration
		blob []byte
	)
	if err := r.Scan(&seq, &cfg.ID, &blob, &cfg.Hash, &cfg.NumAtoms, &cfg.NumFragments, &cfg.Tag); err != nil {
		return 0, ir.Configuration{}, err
	}
	g, err := unmarshalGeometry(blob)
	if err != nil {
		return 0, ir.Configuration{}, err
	}
	cfg.Geometry = g
	return seq, cfg, nil
}
