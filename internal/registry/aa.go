package registry

import (
	"github.com/roach88/invar/internal/ir"
)

// CategoryAccountAbstraction groups the ERC-4337 style cross-layer invariants.
const CategoryAccountAbstraction = "account_abstraction"

// AccountAbstractionVars are the state variables the account-abstraction
// library reads.
func AccountAbstractionVars() []ir.StateVar {
	return []ir.StateVar{
		{Layer: ir.LayerAccount, Name: "nonce", Type: ir.TU128},
		{Layer: ir.LayerAccount, Name: "balance", Type: ir.TU128},
		{Layer: ir.LayerAccount, Name: "signature_valid", Type: ir.TBool},
		{Layer: ir.LayerAccount, Name: "reentrancy_locked", Type: ir.TBool},
		{Layer: ir.LayerBundler, Name: "nonce", Type: ir.TU128},
		{Layer: ir.LayerBundler, Name: "sender", Type: ir.TAddress},
		{Layer: ir.LayerBundler, Name: "prefund", Type: ir.TU128},
		{Layer: ir.LayerPaymaster, Name: "deposit", Type: ir.TU128},
		{Layer: ir.LayerEntryPoint, Name: "authenticated_caller", Type: ir.TAddress},
	}
}

func acct(name string) ir.LayerVar { return ir.LayerVar{Layer: ir.LayerAccount, Name: name} }

// AccountAbstraction returns the account-abstraction invariants.
func AccountAbstraction() []ir.InvariantDecl {
	aa := func(d ir.InvariantDecl) ir.InvariantDecl {
		d.Category = CategoryAccountAbstraction
		return d
	}
	return []ir.InvariantDecl{
		aa(ir.InvariantDecl{
			Name:        "aa.nonce_monotonic",
			Description: "The account nonce never decreases between validation and settlement.",
			Expr: ir.CrossPhase{
				Op:         ir.OpGe,
				LeftPhase:  ir.PhaseSettlement,
				Left:       acct("nonce"),
				RightPhase: ir.PhaseValidation,
				Right:      acct("nonce"),
			},
			Phases:   []ir.Phase{ir.PhaseSettlement},
			Severity: ir.SeverityCritical,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.nonce_matches_user_op",
			Description: "The UserOperation carries the nonce the account expects.",
			Expr: ir.PhaseConstraint{
				Phase: ir.PhaseValidation,
				Inner: ir.Binary{
					Op:    ir.OpEq,
					Left:  ir.LayerVar{Layer: ir.LayerBundler, Name: "nonce"},
					Right: acct("nonce"),
				},
			},
			Phases:   []ir.Phase{ir.PhaseValidation},
			Severity: ir.SeverityHigh,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.signature_valid",
			Description: "Validation only succeeds with a valid signature.",
			Expr:        acct("signature_valid"),
			Phases:      []ir.Phase{ir.PhaseValidation},
			Severity:    ir.SeverityCritical,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.paymaster_deposit_covers_prefund",
			Description: "A sponsoring paymaster's deposit covers the operation's prefund.",
			Expr: ir.PhaseConstraint{
				Phase: ir.PhaseValidation,
				Inner: ir.Binary{
					Op:    ir.OpGe,
					Left:  ir.LayerVar{Layer: ir.LayerPaymaster, Name: "deposit"},
					Right: ir.LayerVar{Layer: ir.LayerBundler, Name: "prefund"},
				},
			},
			Phases:   []ir.Phase{ir.PhaseValidation},
			Severity: ir.SeverityHigh,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.balance_non_increase",
			Description: "Executing a UserOperation never credits the account itself.",
			Expr: ir.CrossPhase{
				Op:         ir.OpLe,
				LeftPhase:  ir.PhaseSettlement,
				Left:       acct("balance"),
				RightPhase: ir.PhaseValidation,
				Right:      acct("balance"),
			},
			Phases:   []ir.Phase{ir.PhaseSettlement},
			Severity: ir.SeverityHigh,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.entrypoint_caller",
			Description: "The EntryPoint authenticated the UserOperation's sender.",
			Expr: ir.Binary{
				Op:    ir.OpEq,
				Left:  ir.LayerVar{Layer: ir.LayerEntryPoint, Name: "authenticated_caller"},
				Right: ir.LayerVar{Layer: ir.LayerBundler, Name: "sender"},
			},
			Phases:   []ir.Phase{ir.PhaseExecution},
			Severity: ir.SeverityHigh,
		}),
		aa(ir.InvariantDecl{
			Name:        "aa.reentrancy_released",
			Description: "The reentrancy guard is released by settlement.",
			Expr:        ir.Not{Operand: acct("reentrancy_locked")},
			Phases:      []ir.Phase{ir.PhaseSettlement},
			Severity:    ir.SeverityMedium,
		}),
	}
}

// Library returns a registry holding the built-in invariants and the
// variables they require.
func Library() (*Registry, error) {
	r := New()
	for _, v := range AccountAbstractionVars() {
		if err := r.Require(v); err != nil {
			return nil, err
		}
	}
	for _, d := range AccountAbstraction() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
