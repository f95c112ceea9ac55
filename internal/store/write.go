package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/runner"
)

// WriteResult stores a run with its trials and verdicts in one transaction.
//
// Writing a run ID that is already stored is a no-op, so a result can be
// written twice safely. A verdict seq already used by another run is an
// error: the runner's clock was not resumed from LastSeq.
func (s *Store) WriteResult(ctx context.Context, source string, res *runner.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM runs WHERE id = ?`, res.RunID).Scan(&existing)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("write run: %w", err)
	}

	var first, last int64
	if n := len(res.Records); n > 0 {
		first, last = res.Records[0].Seq, res.Records[n-1].Seq
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, engine_version, ir_version, first_seq, last_seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.RunID, source, ir.EngineVersion, ir.LoweringVersion, first, last); err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	for i, tr := range res.Trials {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trials (run_id, name, pos, digest, error)
			VALUES (?, ?, ?, ?, ?)
		`, res.RunID, tr.Trial, i, tr.Digest, errorText(tr.Err)); err != nil {
			return fmt.Errorf("write trial %s: %w", tr.Trial, err)
		}
	}

	for _, rec := range res.Records {
		if err := writeVerdict(ctx, tx, res.RunID, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func writeVerdict(ctx context.Context, tx *sql.Tx, runID string, rec runner.Record) error {
	snap, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("write verdict %d: %w", rec.Seq, err)
	}
	message := ""
	if rec.Status == eval.StatusError {
		message = rec.Message()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO verdicts
		(seq, run_id, trial, invariant, hash, severity, category, status, phase, error_kind, message, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Seq,
		runID,
		rec.Trial,
		rec.Invariant,
		rec.Hash,
		string(rec.Severity),
		rec.Category,
		string(rec.Status),
		rec.Phase.Text(),
		string(rec.Kind),
		message,
		snap,
	)
	if err != nil {
		return fmt.Errorf("write verdict %d: %w", rec.Seq, err)
	}
	return nil
}
