package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/roach88/mbfit/internal/ir"
	"github.com/roach88/mbfit/internal/manybody"
)

// Register inserts a pending energy record for key if none exists.
// Uses ON CONFLICT DO NOTHING for idempotency - an existing record is left
// untouched whatever its status. Reports whether a row was inserted.
//
// Returns *NotFoundError for an unknown configuration and *ValidationError
// when the configuration has more fragments than manybody.MaxBodies.
func (s *Store) Register(ctx context.Context, key ir.RecordKey) (inserted bool, err error) {
	err = s.withTx(ctx, "register", func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT num_fragments FROM configurations WHERE id = ?
		`), key.ConfigurationID).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "configuration", ID: key.ConfigurationID}
		}
		if err != nil {
			return fmt.Errorf("register: lookup configuration: %w", err)
		}
		if n > manybody.MaxBodies {
			return &ValidationError{
				Field:   "num_fragments",
				Message: fmt.Sprintf("configuration %s has %d fragments, at most %d are supported", key.ConfigurationID, n, manybody.MaxBodies),
			}
		}

		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO energies
			(configuration_id, method, basis, cp, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (configuration_id, method, basis, cp) DO NOTHING
		`),
			key.ConfigurationID,
			key.Model.Method,
			key.Model.Basis,
			cpInt(key.Model.CP),
			string(ir.StatusPending),
		)
		if err != nil {
			return fmt.Errorf("register: insert: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("register: rows affected: %w", err)
		}
		inserted = affected > 0
		return nil
	})
	return inserted, err
}

// RegisterTag registers every configuration whose tag matches for model.
// Returns how many records were newly inserted.
func (s *Store) RegisterTag(ctx context.Context, model ir.Model, tag ir.Pattern[string]) (int, error) {
	registered := 0
	for cfg, err := range s.List(ctx, tag) {
		if err != nil {
			return registered, err
		}
		inserted, err := s.Register(ctx, ir.RecordKey{ConfigurationID: cfg.ID, Model: model})
		if err != nil {
			return registered, err
		}
		if inserted {
			registered++
		}
	}
	return registered, nil
}

// SetSubsetEnergy stores the total energy of one fragment subset.
//
// When the write supplies the last missing subset, E_nb is derived and the
// record becomes computed in the same transaction. Writing a subset that is
// already present replaces its value.
//
// Returns *StateError unless the record is pending, *ValidationError for an
// out-of-range subset or non-finite value, *NotFoundError for an unknown key.
func (s *Store) SetSubsetEnergy(ctx context.Context, key ir.RecordKey, subset ir.Subset, value float64) error {
	return s.SetSubsetEnergyWithLog(ctx, key, subset, value, "")
}

// SetSubsetEnergyWithLog is SetSubsetEnergy with the calculation's log
// reference. The log of the subset that completes the record becomes the
// record's log_ref.
func (s *Store) SetSubsetEnergyWithLog(ctx context.Context, key ir.RecordKey, subset ir.Subset, value float64, logRef string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Field: "energy", Message: "energy must be finite"}
	}

	return s.withTx(ctx, "set subset energy", func(tx *sql.Tx) error {
		rec, err := s.lookupRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.status != ir.StatusPending {
			return &StateError{Op: "set subset energy on", Key: key, Status: rec.status}
		}
		if !manybody.Contains(rec.numFragments, subset) {
			return &ValidationError{
				Field:   "subset",
				Message: fmt.Sprintf("subset %v is not a subset of %d fragments", []int(subset), rec.numFragments),
			}
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO subset_energies
			(energy_seq, subset, energy, log_ref)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (energy_seq, subset) DO UPDATE
			SET energy = excluded.energy, log_ref = excluded.log_ref
		`), rec.seq, subset.Label(), value, logRef)
		if err != nil {
			return fmt.Errorf("set subset energy: upsert: %w", err)
		}

		energies, err := s.loadSubsets(ctx, tx, rec.seq)
		if err != nil {
			return err
		}
		if !manybody.Complete(rec.numFragments, energies) {
			return nil
		}

		enb, ok, err := manybody.NonAdditive(rec.numFragments, energies)
		if err != nil {
			return fmt.Errorf("set subset energy: derive e_nb: %w", err)
		}
		var enbArg any
		if ok {
			enbArg = enb
		}
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE energies SET status = ?, e_nb = ?, log_ref = ? WHERE seq = ?
		`), string(ir.StatusComputed), enbArg, logRef, rec.seq)
		if err != nil {
			return fmt.Errorf("set subset energy: mark computed: %w", err)
		}
		return nil
	})
}

// SetFailed transitions a pending record to failed, keeping any subsets that
// were already computed. Returns *StateError if the record is not pending.
func (s *Store) SetFailed(ctx context.Context, key ir.RecordKey, logRef string) error {
	return s.transition(ctx, key, "mark failed", ir.StatusPending, ir.StatusFailed, &logRef)
}

// ResetFailed transitions a failed record back to pending so the fill runner
// retries it. Returns *StateError if the record is not failed.
func (s *Store) ResetFailed(ctx context.Context, key ir.RecordKey) error {
	return s.transition(ctx, key, "reset", ir.StatusFailed, ir.StatusPending, nil)
}

func (s *Store) transition(ctx context.Context, key ir.RecordKey, op string, from, to ir.Status, logRef *string) error {
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		rec, err := s.lookupRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.status != from {
			return &StateError{Op: op, Key: key, Status: rec.status}
		}
		ref := rec.logRef
		if logRef != nil {
			ref = *logRef
		}
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE energies SET status = ?, log_ref = ? WHERE seq = ?
		`), string(to), ref, rec.seq)
		if err != nil {
			return fmt.Errorf("%s: update: %w", op, err)
		}
		return nil
	})
}

// ResetAllFailed moves every failed record of model back to pending.
// Returns the number of records reset.
func (s *Store) ResetAllFailed(ctx context.Context, model ir.Model) (int64, error) {
	var w where
	w.eq("method", model.Method)
	w.eq("basis", model.Basis)
	w.eq("cp", cpInt(model.CP))
	w.eq("status", string(ir.StatusFailed))

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE energies SET status = ?`+w.sql()),
		append([]any{string(ir.StatusPending)}, w.args...)...)
	if err != nil {
		return 0, fmt.Errorf("reset failed records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed records: rows affected: %w", err)
	}
	return n, nil
}

// Recompute discards every subset energy and the derived term of a record
// and returns it to pending. This is the only way to change a computed
// record, and it overwrites rather than merges.
func (s *Store) Recompute(ctx context.Context, key ir.RecordKey) error {
	return s.withTx(ctx, "recompute", func(tx *sql.Tx) error {
		rec, err := s.lookupRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM subset_energies WHERE energy_seq = ?
		`), rec.seq); err != nil {
			return fmt.Errorf("recompute: clear subsets: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE energies SET status = ?, e_nb = NULL, log_ref = '' WHERE seq = ?
		`), string(ir.StatusPending), rec.seq); err != nil {
			return fmt.Errorf("recompute: reset record: %w", err)
		}
		return nil
	})
}

// Record reads one energy record with all its stored subset energies.
func (s *Store) Record(ctx context.Context, key ir.RecordKey) (ir.EnergyRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT e.seq, e.status, c.num_fragments, e.e_nb, e.log_ref
		FROM energies e
		JOIN configurations c ON c.id = e.configuration_id
		WHERE e.configuration_id = ? AND e.method = ? AND e.basis = ? AND e.cp = ?
	`), key.ConfigurationID, key.Model.Method, key.Model.Basis, cpInt(key.Model.CP))

	var (
		seq    int64
		status string
		enb    sql.NullFloat64
		rec    = ir.EnergyRecord{Key: key}
	)
	err := row.Scan(&seq, &status, &rec.NumFragments, &enb, &rec.LogRef)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.EnergyRecord{}, &NotFoundError{Kind: "energy record", ID: recordID(key)}
	}
	if err != nil {
		return ir.EnergyRecord{}, fmt.Errorf("read record: %w", err)
	}
	rec.Status = ir.Status(status)
	if enb.Valid {
		v := enb.Float64
		rec.NonAdditive = &v
	}
	rec.Energies, err = s.loadSubsets(ctx, s.db, seq)
	if err != nil {
		return ir.EnergyRecord{}, err
	}
	return rec, nil
}

// Missing returns one FillJob per pending record of model, each listing only
// the subsets that still have no energy.
//
// The sequence is lazy and restartable. Batches are keyed on the record seq,
// so records that leave the pending state while the caller works simply drop
// out of later batches.
func (s *Store) Missing(ctx context.Context, model ir.Model) iter.Seq2[ir.FillJob, error] {
	return func(yield func(ir.FillJob, error) bool) {
		var after int64
		for {
			batch, last, err := s.missingBatch(ctx, model, after)
			if err != nil {
				yield(ir.FillJob{}, err)
				return
			}
			for _, job := range batch {
				if !yield(job, nil) {
					return
				}
			}
			if last == after {
				return
			}
			after = last
		}
	}
}

func (s *Store) missingBatch(ctx context.Context, model ir.Model, after int64) ([]ir.FillJob, int64, error) {
	var w where
	w.model(model)
	w.eq("e.status", string(ir.StatusPending))
	w.raw("e.seq > ?", after)

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT e.seq, e.configuration_id, c.num_fragments, c.geometry_blob
		FROM energies e
		JOIN configurations c ON c.id = e.configuration_id`+w.sql()+`
		ORDER BY e.seq ASC
		LIMIT ?
	`), append(w.args, s.batch)...)
	if err != nil {
		return nil, after, fmt.Errorf("missing energies: %w", err)
	}

	type pendingRow struct {
		seq  int64
		n    int
		job  ir.FillJob
		blob []byte
	}
	var pending []pendingRow
	last := after
	for rows.Next() {
		var p pendingRow
		p.job.Key.Model = model
		if err := rows.Scan(&p.seq, &p.job.Key.ConfigurationID, &p.n, &p.blob); err != nil {
			rows.Close()
			return nil, after, fmt.Errorf("missing energies: scan: %w", err)
		}
		pending = append(pending, p)
		last = p.seq
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, after, fmt.Errorf("iterate missing energies: %w", err)
	}
	rows.Close()

	seqs := make([]int64, len(pending))
	for i, p := range pending {
		seqs[i] = p.seq
	}
	present, err := s.loadSubsetsBatch(ctx, seqs)
	if err != nil {
		return nil, after, err
	}

	jobs := make([]ir.FillJob, 0, len(pending))
	for _, p := range pending {
		g, err := unmarshalGeometry(p.blob)
		if err != nil {
			return nil, after, err
		}
		missing, err := manybody.Missing(p.n, present[p.seq])
		if err != nil {
			return nil, after, &ValidationError{Field: "num_fragments", Message: err.Error()}
		}
		p.job.Geometry = g
		p.job.Missing = missing
		jobs = append(jobs, p.job)
	}
	return jobs, last, nil
}

// Query returns every computed record matching the filter, joined with its
// configuration, in configuration insertion order.
func (s *Store) Query(ctx context.Context, f ir.Filter) iter.Seq2[ir.Entry, error] {
	f.Tag = normalizedTag(f.Tag)
	return func(yield func(ir.Entry, error) bool) {
		var cursor [2]int64
		for {
			batch, next, err := s.queryBatch(ctx, f, cursor)
			if err != nil {
				yield(ir.Entry{}, err)
				return
			}
			for _, entry := range batch {
				if !yield(entry, nil) {
					return
				}
			}
			if len(batch) < s.batch {
				return
			}
			cursor = next
		}
	}
}

func (s *Store) queryBatch(ctx context.Context, f ir.Filter, cursor [2]int64) ([]ir.Entry, [2]int64, error) {
	var w where
	w.eq("e.status", string(ir.StatusComputed))
	w.filter(f)
	w.raw("(c.seq > ? OR (c.seq = ? AND e.seq > ?))", cursor[0], cursor[0], cursor[1])

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT c.seq, e.seq,
		       c.id, c.geometry_blob, c.geometry_hash, c.num_atoms, c.num_fragments, c.tag,
		       e.method, e.basis, e.cp, e.status, e.e_nb, e.log_ref
		FROM energies e
		JOIN configurations c ON c.id = e.configuration_id`+w.sql()+`
		ORDER BY c.seq ASC, e.seq ASC
		LIMIT ?
	`), append(w.args, s.batch)...)
	if err != nil {
		return nil, cursor, fmt.Errorf("query energies: %w", err)
	}

	var (
		entries []ir.Entry
		seqs    []int64
		next    = cursor
	)
	for rows.Next() {
		var (
			cseq, eseq int64
			cfg        ir.Configuration
			blob       []byte
			rec        ir.EnergyRecord
			cp         int
			status     string
			enb        sql.NullFloat64
		)
		if err := rows.Scan(&cseq, &eseq,
			&cfg.ID, &blob, &cfg.Hash, &cfg.NumAtoms, &cfg.NumFragments, &cfg.Tag,
			&rec.Key.Model.Method, &rec.Key.Model.Basis, &cp, &status, &enb, &rec.LogRef,
		); err != nil {
			rows.Close()
			return nil, cursor, fmt.Errorf("query energies: scan: %w", err)
		}
		g, err := unmarshalGeometry(blob)
		if err != nil {
			rows.Close()
			return nil, cursor, err
		}
		cfg.Geometry = g
		rec.Key.ConfigurationID = cfg.ID
		rec.Key.Model.CP = cp != 0
		rec.Status = ir.Status(status)
		rec.NumFragments = cfg.NumFragments
		if enb.Valid {
			v := enb.Float64
			rec.NonAdditive = &v
		}
		entries = append(entries, ir.Entry{Configuration: cfg, Record: rec})
		seqs = append(seqs, eseq)
		next = [2]int64{cseq, eseq}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, cursor, fmt.Errorf("iterate energies: %w", err)
	}
	rows.Close()

	present, err := s.loadSubsetsBatch(ctx, seqs)
	if err != nil {
		return nil, cursor, err
	}
	for i := range entries {
		entries[i].Record.Energies = present[seqs[i]]
	}
	return entries, next, nil
}

// Summary counts records per status among those matching the filter.
// Every status is present in the result, possibly with a zero count.
func (s *Store) Summary(ctx context.Context, f ir.Filter) (map[ir.Status]int, error) {
	var w where
	w.filter(ir.Filter{Method: f.Method, Basis: f.Basis, CP: f.CP, Tag: normalizedTag(f.Tag)})

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT e.status, COUNT(*)
		FROM energies e
		JOIN configurations c ON c.id = e.configuration_id`+w.sql()+`
		GROUP BY e.status
		ORDER BY e.status ASC
	`), w.args...)
	if err != nil {
		return nil, fmt.Errorf("summarize energies: %w", err)
	}
	defer rows.Close()

	out := map[ir.Status]int{
		ir.StatusPending:  0,
		ir.StatusComputed: 0,
		ir.StatusFailed:   0,
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("summarize energies: scan: %w", err)
		}
		out[ir.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return out, nil
}

// recordRow is the part of an energies row that write transactions inspect.
type recordRow struct {
	seq          int64
	status       ir.Status
	numFragments int
	logRef       string
}

// lookupRecord reads (and on Postgres locks) the record for key.
func (s *Store) lookupRecord(ctx context.Context, tx *sql.Tx, key ir.RecordKey) (recordRow, error) {
	var (
		rec    recordRow
		status string
	)
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT e.seq, e.status, c.num_fragments, e.log_ref
		FROM energies e
		JOIN configurations c ON c.id = e.configuration_id
		WHERE e.configuration_id = ? AND e.method = ? AND e.basis = ? AND e.cp = ?`+s.dialect.lockRecord()),
		key.ConfigurationID, key.Model.Method, key.Model.Basis, cpInt(key.Model.CP),
	).Scan(&rec.seq, &status, &rec.numFragments, &rec.logRef)
	if errors.Is(err, sql.ErrNoRows) {
		return recordRow{}, &NotFoundError{Kind: "energy record", ID: recordID(key)}
	}
	if err != nil {
		return recordRow{}, fmt.Errorf("lookup record: %w", err)
	}
	rec.status = ir.Status(status)
	return rec, nil
}

// loadSubsets returns the stored subset energies of one record keyed by label.
func (s *Store) loadSubsets(ctx context.Context, q queryer, seq int64) (map[string]float64, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT subset, energy FROM subset_energies WHERE energy_seq = ? ORDER BY subset ASC
	`), seq)
	if err != nil {
		return nil, fmt.Errorf("load subsets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			label  string
			energy float64
		)
		if err := rows.Scan(&label, &energy); err != nil {
			return nil, fmt.Errorf("load subsets: scan: %w", err)
		}
		out[label] = energy
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subsets: %w", err)
	}
	return out, nil
}

// loadSubsetsBatch loads subset energies for many records in one query.
// Every requested seq has a (possibly empty) map in the result.
func (s *Store) loadSubsetsBatch(ctx context.Context, seqs []int64) (map[int64]map[string]float64, error) {
	out := make(map[int64]map[string]float64, len(seqs))
	if len(seqs) == 0 {
		return out, nil
	}
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
		out[seq] = make(map[string]float64)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT energy_seq, subset, energy
		FROM subset_energies
		WHERE energy_seq IN (`+placeholders(len(seqs))+`)
		ORDER BY energy_seq ASC, subset ASC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("load subsets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq    int64
			label  string
			energy float64
		)
		if err := rows.Scan(&seq, &label, &energy); err != nil {
			return nil, fmt.Errorf("load subsets: scan: %w", err)
		}
		out[seq][label] = energy
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subsets: %w", err)
	}
	return out, nil
}
