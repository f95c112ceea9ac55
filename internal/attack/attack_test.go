package attack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/ir"
)

func TestDefault(t *testing.T) {
	db := Default()
	all := db.All()
	require.Len(t, all, 8)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
	for _, p := range all {
		assert.True(t, p.CVSS > 0 && p.CVSS <= 10, p.ID)
		assert.NotEmpty(t, p.Chains, p.ID)
	}

	p, ok := db.Lookup("reentrancy")
	require.True(t, ok)
	assert.Equal(t, "Reentrancy", p.Name)
	assert.Equal(t, 2016, p.Year)
	assert.Equal(t, ir.SeverityCritical, p.Severity())

	_, ok = db.Lookup("missing")
	assert.False(t, ok)
}

func TestForChain(t *testing.T) {
	db := Default()
	assert.Len(t, db.ForChain(codegen.ChainEVM), 8)

	var ids []string
	for _, p := range db.ForChain(codegen.ChainSolana) {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"access_control_bypass", "integer_overflow"}, ids)
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		cvss float64
		want ir.Severity
	}{
		{9.9, ir.SeverityCritical},
		{9.0, ir.SeverityCritical},
		{8.5, ir.SeverityHigh},
		{6.5, ir.SeverityMedium},
		{4.0, ir.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&Pattern{CVSS: tt.cvss}).Severity(), tt.cvss)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(&Pattern{ID: "a"}, &Pattern{ID: "a"})
	assert.Error(t, err)
	_, err = New(&Pattern{})
	assert.Error(t, err)
}

func TestScanReentrancy(t *testing.T) {
	db := Default()

	vulnerable := "function withdraw() external {\n" +
		"    payable(msg.sender).transfer(amount);\n" +
		"    balances[msg.sender] = 0;\n" +
		"}\n"
	r := db.Scan(codegen.ChainEVM, vulnerable)
	require.Len(t, r.Findings, 1)
	f := r.Findings[0]
	assert.Equal(t, "reentrancy", f.Pattern)
	assert.Equal(t, 2, f.Line)
	assert.Equal(t, "payable(msg.sender).transfer(amount);", f.Text)
	assert.Equal(t, ir.SeverityCritical, f.Severity)
	assert.Equal(t, "aa.reentrancy_released", f.Defense)
	assert.False(t, r.Passed())
	assert.Equal(t, 25, r.RiskScore)

	safe := "function withdraw() external {\n" +
		"    balances[msg.sender] = 0;\n" +
		"    payable(msg.sender).transfer(amount);\n" +
		"}\n"
	assert.Empty(t, db.Scan(codegen.ChainEVM, safe).Findings)

	guarded := "function withdraw() external nonReentrant { payable(msg.sender).transfer(amount); }"
	assert.Empty(t, db.Scan(codegen.ChainEVM, guarded).Findings)
}

func TestScanMarkers(t *testing.T) {
	db := Default()
	src := "require(tx.origin == owner);\n" +
		"uint256 seed = block.timestamp;\n" +
		"target.delegatecall(data);\n" +
		"unchecked { total += amount; }\n"

	r := db.Scan(codegen.ChainEVM, src)
	var got []string
	for _, f := range r.Findings {
		got = append(got, f.Pattern)
	}
	assert.Equal(t, []string{"access_control_bypass", "timestamp_dependence", "delegatecall_misuse", "integer_overflow"}, got)
	assert.Equal(t, 4, r.Findings[3].Line)
	assert.Equal(t, "attack pattern access_control_bypass at line 1: require(tx.origin == owner);", r.Findings[0].String())
	assert.Equal(t, 25+8+25+15, r.RiskScore)
	assert.False(t, r.Passed())

	// Only patterns affecting the chain are checked.
	r = db.Scan(codegen.ChainMove, src)
	require.Len(t, r.Findings, 2)
	assert.Equal(t, "access_control_bypass", r.Findings[0].Pattern)
	assert.Equal(t, "integer_overflow", r.Findings[1].Pattern)
}

func TestScanRiskScoreCapped(t *testing.T) {
	src := ""
	for range 6 {
		src += "target.delegatecall(data);\n"
	}
	r := Default().Scan(codegen.ChainEVM, src)
	assert.Len(t, r.Findings, 6)
	assert.Equal(t, 100, r.RiskScore)
}

func TestScanTimestampOnlyIsMedium(t *testing.T) {
	r := Default().Scan(codegen.ChainEVM, "if (block.timestamp > start) {}")
	require.Len(t, r.Findings, 1)
	assert.Equal(t, ir.SeverityMedium, r.Findings[0].Severity)
	assert.True(t, r.Passed())
	assert.Equal(t, 8, r.RiskScore)
}

func TestScanGeneratedCodeIsClean(t *testing.T) {
	for _, src := range []string{
		"function check_transfer_limit() internal view {\n    require(state.account.balance >= 60, \"check_transfer_limit[0]\");\n}\n",
		"pub fn check_x(state: &State, snapshots: &Snapshots) -> Result<()> {\n    invar_assert!(state.account.nonce > 0, \"check_x[0]\");\n    Ok(())\n}\n",
	} {
		for _, chain := range codegen.Chains() {
			assert.Empty(t, Default().Scan(chain, src).Findings, chain)
		}
	}
}
