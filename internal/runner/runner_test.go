package runner

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/loader"
	"github.com/roach88/invar/internal/typecheck"
)

const walletDoc = `
vars:
  "account::nonce": u64
  "account::balance": u64
invariants:
  - name: nonce_positive
    severity: critical
    expr: {op: ">", left: {layer: account, var: nonce}, right: {lit: 0}}
  - name: balance_floor
    severity: high
    expr: {op: ">=", left: {layer: account, var: balance}, right: {lit: 10}}
trials:
  - name: healthy
    steps:
      - set: {"account::nonce": 1, "account::balance": 50}
  - name: drained
    steps:
      - set: {"account::nonce": 0, "account::balance": 5}
  - name: broken
    steps:
      - set: {"paymaster::deposit": 1}
`

func walletBatch(t *testing.T) Batch {
	t.Helper()
	doc, err := loader.New().Parse([]byte(walletDoc), loader.FormatYAML)
	require.NoError(t, err)
	env, err := doc.Env()
	require.NoError(t, err)
	invs, err := typecheck.New(env).CheckAll(doc.Invariants)
	require.NoError(t, err)
	return Batch{Env: env, Invariants: invs, Trials: doc.Trials}
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	resumed := NewClockAt(41)
	assert.Equal(t, int64(42), resumed.Next())
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, dup := seen.LoadOrStore(c.Next(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), c.Current())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}

func TestRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	r := New(WithWorkers(2), WithIDGenerator(NewFixedGenerator("run-1")), WithMetrics(m))
	res, err := r.Run(context.Background(), walletBatch(t))
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, res.Trials, 3)
	assert.Equal(t, "healthy", res.Trials[0].Trial)
	assert.NotEmpty(t, res.Trials[0].Digest)
	assert.True(t, ir.IsKind(res.Trials[2].Err, ir.ErrUndeclaredIdentifier))
	assert.Empty(t, res.Trials[2].Verdicts)

	require.Len(t, res.Records, 4)
	want := []struct {
		trial, inv string
		status     eval.Status
	}{
		{"healthy", "nonce_positive", eval.StatusPass},
		{"healthy", "balance_floor", eval.StatusPass},
		{"drained", "nonce_positive", eval.StatusFail},
		{"drained", "balance_floor", eval.StatusFail},
	}
	for i, w := range want {
		rec := res.Records[i]
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, w.trial, rec.Trial)
		assert.Equal(t, w.inv, rec.Invariant)
		assert.Equal(t, w.status, rec.Status)
	}
	assert.NotNil(t, res.Records[2].Snapshot, "failures carry the context export")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.Verdicts.WithLabelValues("PASS")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Verdicts.WithLabelValues("FAIL")))
	var hist dto.Metric
	require.NoError(t, m.TrialDuration.Write(&hist))
	assert.Equal(t, uint64(2), hist.GetHistogram().GetSampleCount(), "errored trials are not timed")
}

// Output order depends on input order only, whatever the worker count.
func TestRun_Deterministic(t *testing.T) {
	batch := walletBatch(t)
	one, err := New(WithWorkers(1)).Run(context.Background(), batch)
	require.NoError(t, err)
	many, err := New(WithWorkers(8)).Run(context.Background(), batch)
	require.NoError(t, err)

	require.Len(t, many.Records, len(one.Records))
	for i := range one.Records {
		assert.Equal(t, one.Records[i].Seq, many.Records[i].Seq)
		assert.Equal(t, one.Records[i].Invariant, many.Records[i].Invariant)
		assert.Equal(t, one.Records[i].Status, many.Records[i].Status)
	}
}

func TestRun_ContinuesClock(t *testing.T) {
	res, err := New(WithClock(NewClockAt(10))).Run(context.Background(), walletBatch(t))
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Records[0].Seq)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, walletBatch(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestRecordVerdict_CountsErrorKinds(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordVerdict(eval.Verdict{Status: eval.StatusError, Kind: ir.ErrDivisionByZero})
	m.RecordVerdict(eval.Verdict{Status: eval.StatusError})
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Errors.WithLabelValues(string(ir.ErrDivisionByZero))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Errors.WithLabelValues(string(ir.ErrMalformedAST))))
}

func TestSummarize(t *testing.T) {
	recs := []Record{
		{Verdict: eval.Verdict{Status: eval.StatusPass, Severity: ir.SeverityCritical}},
		{Verdict: eval.Verdict{Status: eval.StatusFail, Severity: ir.SeverityCritical}},
		{Verdict: eval.Verdict{Status: eval.StatusFail, Severity: ir.SeverityLow}},
		{Verdict: eval.Verdict{Status: eval.StatusSkipped}},
		{Verdict: eval.Verdict{Status: eval.StatusError, Err: ir.Errorf(ir.ErrDivisionByZero, "x / 0")}},
		{Verdict: eval.Verdict{Status: eval.StatusError, Err: ir.Errorf(ir.ErrForbiddenIdentifierPattern, "exec")}},
	}
	s := Summarize(recs)
	assert.Equal(t, Summary{
		Total: 6, Pass: 1, Fail: 2, Error: 2, Skipped: 1, Security: 1,
		Failures:  SeverityBreakdown{Critical: 1, Low: 1},
		RiskScore: 28,
	}, s)
	assert.False(t, s.OK())
	assert.True(t, Summarize(recs[:1]).OK())
}

func TestSummarize_RiskScoreCapped(t *testing.T) {
	var recs []Record
	for range 5 {
		recs = append(recs, Record{Verdict: eval.Verdict{Status: eval.StatusFail, Severity: ir.SeverityCritical}})
	}
	assert.Equal(t, 100, Summarize(recs).RiskScore)
}
