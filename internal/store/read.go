package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Run is a stored run header.
type Run struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
	FirstSeq      int64  `json:"first_seq"`
	LastSeq       int64  `json:"last_seq"`
}

// Trial is a stored trial.
type Trial struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	Error  string `json:"error,omitempty"`
}

// Verdict is a stored verdict row.
type Verdict struct {
	Seq       int64          `json:"seq"`
	RunID     string         `json:"run_id"`
	Trial     string         `json:"trial"`
	Invariant string         `json:"invariant"`
	Hash      string         `json:"hash"`
	Severity  string         `json:"severity"`
	Category  string         `json:"category,omitempty"`
	Status    string         `json:"status"`
	Phase     string         `json:"phase,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Snapshot  map[string]any `json:"snapshot,omitempty"` // decoded context export, FAIL rows only
}

const verdictColumns = `seq, run_id, trial, invariant, hash, severity, category, status, phase, error_kind, message, snapshot`

// ReadRun returns a run header. Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, engine_version, ir_version, first_seq, last_seq
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Source, &r.EngineVersion, &r.IRVersion, &r.FirstSeq, &r.LastSeq)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns every run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, engine_version, ir_version, first_seq, last_seq
		FROM runs
		ORDER BY first_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.EngineVersion, &r.IRVersion, &r.FirstSeq, &r.LastSeq); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadTrials returns a run's trials in input order.
func (s *Store) ReadTrials(ctx context.Context, runID string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, digest, error FROM trials
		WHERE run_id = ?
		ORDER BY pos ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read trials: %w", err)
	}
	defer rows.Close()

	trials := []Trial{}
	for rows.Next() {
		var t Trial
		if err := rows.Scan(&t.Name, &t.Digest, &t.Error); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trials: %w", err)
	}
	return trials, nil
}

// ReadVerdicts returns a run's verdicts ordered by seq.
func (s *Store) ReadVerdicts(ctx context.Context, runID string) ([]Verdict, error) {
	return s.queryVerdicts(ctx, `
		SELECT `+verdictColumns+` FROM verdicts
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// ReadHistory returns every stored verdict of one invariant across runs,
// ordered by seq.
func (s *Store) ReadHistory(ctx context.Context, invariant string) ([]Verdict, error) {
	return s.queryVerdicts(ctx, `
		SELECT `+verdictColumns+` FROM verdicts
		WHERE invariant = ?
		ORDER BY seq ASC
	`, invariant)
}

// ReadFailures returns a run's FAIL and ERROR verdicts ordered by seq.
func (s *Store) ReadFailures(ctx context.Context, runID string) ([]Verdict, error) {
	return s.queryVerdicts(ctx, `
		SELECT `+verdictColumns+` FROM verdicts
		WHERE run_id = ? AND status IN ('FAIL', 'ERROR')
		ORDER BY seq ASC
	`, runID)
}

func (s *Store) queryVerdicts(ctx context.Context, query string, args ...any) ([]Verdict, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := []Verdict{}
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return verdicts, nil
}

func scanVerdict(rows *sql.Rows) (Verdict, error) {
	var (
		v    Verdict
		snap sql.NullString
	)
	err := rows.Scan(&v.Seq, &v.RunID, &v.Trial, &v.Invariant, &v.Hash, &v.Severity,
		&v.Category, &v.Status, &v.Phase, &v.ErrorKind, &v.Message, &snap)
	if err != nil {
		return Verdict{}, fmt.Errorf("scan verdict: %w", err)
	}
	if v.Snapshot, err = unmarshalSnapshot(snap); err != nil {
		return Verdict{}, fmt.Errorf("verdict %d: %w", v.Seq, err)
	}
	return v, nil
}
