package registry

import (
	"github.com/roach88/invar/internal/ir"
)

// CategoryDefensive groups invariants that guard against known attack
// patterns.
const CategoryDefensive = "defensive"

// DefensiveVars are the state variables the defensive invariants read.
func DefensiveVars() []ir.StateVar {
	return []ir.StateVar{
		{Layer: ir.LayerAccount, Name: "amount_out", Type: ir.TU128},
		{Layer: ir.LayerAccount, Name: "collateral", Type: ir.TU128},
		{Layer: ir.LayerAccount, Name: "debt", Type: ir.TU128},
		{Layer: ir.LayerAccount, Name: "min_amount_out", Type: ir.TU128},
		{Layer: ir.LayerProtocol, Name: "balances", Type: ir.MapType(ir.TAddress, ir.TU128)},
		{Layer: ir.LayerProtocol, Name: "block_time", Type: ir.TU64},
		{Layer: ir.LayerProtocol, Name: "deadline", Type: ir.TU64},
		{Layer: ir.LayerProtocol, Name: "max_price_deviation", Type: ir.TU128},
		{Layer: ir.LayerProtocol, Name: "owner", Type: ir.TAddress},
		{Layer: ir.LayerProtocol, Name: "price", Type: ir.TU128},
		{Layer: ir.LayerProtocol, Name: "reference_price", Type: ir.TU128},
		{Layer: ir.LayerProtocol, Name: "reserves", Type: ir.TU128},
		{Layer: ir.LayerProtocol, Name: "total_supply", Type: ir.TU128},
	}
}

func proto(name string) ir.LayerVar { return ir.LayerVar{Layer: ir.LayerProtocol, Name: name} }

// unchanged holds when name has the same value at settlement as at
// validation.
func unchanged(name string) ir.CrossPhase {
	return ir.CrossPhase{
		Op:         ir.OpEq,
		LeftPhase:  ir.PhaseSettlement,
		Left:       proto(name),
		RightPhase: ir.PhaseValidation,
		Right:      proto(name),
	}
}

// Defenses returns the invariants attack patterns name as their defenses.
func Defenses() []ir.InvariantDecl {
	def := func(d ir.InvariantDecl) ir.InvariantDecl {
		d.Category = CategoryDefensive
		return d
	}
	return []ir.InvariantDecl{
		def(ir.InvariantDecl{
			Name:        "defense.reserves_cover_balances",
			Description: "Protocol reserves cover the sum of every credited balance.",
			Expr: ir.Binary{
				Op:    ir.OpGe,
				Left:  proto("reserves"),
				Right: ir.Aggregate{Op: ir.AggSum, Target: proto("balances")},
			},
			Severity: ir.SeverityCritical,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.supply_conserved",
			Description: "Total supply is unchanged by a transaction.",
			Expr:        unchanged("total_supply"),
			Phases:      []ir.Phase{ir.PhaseSettlement},
			Severity:    ir.SeverityHigh,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.owner_unchanged",
			Description: "No transaction changes the protocol owner.",
			Expr:        unchanged("owner"),
			Phases:      []ir.Phase{ir.PhaseSettlement},
			Severity:    ir.SeverityCritical,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.collateral_covers_debt",
			Description: "An account's collateral covers its debt once the transaction settles.",
			Expr: ir.Binary{
				Op:    ir.OpGe,
				Left:  acct("collateral"),
				Right: acct("debt"),
			},
			Phases:   []ir.Phase{ir.PhaseSettlement},
			Severity: ir.SeverityHigh,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.price_within_band",
			Description: "The quoted price stays within the allowed deviation of the reference price.",
			Expr: ir.Logical{
				Op: ir.OpAnd,
				Left: ir.Binary{
					Op:    ir.OpLe,
					Left:  proto("price"),
					Right: ir.Binary{Op: ir.OpAdd, Left: proto("reference_price"), Right: proto("max_price_deviation")},
				},
				Right: ir.Binary{
					Op:    ir.OpGe,
					Left:  ir.Binary{Op: ir.OpAdd, Left: proto("price"), Right: proto("max_price_deviation")},
					Right: proto("reference_price"),
				},
			},
			Severity: ir.SeverityMedium,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.slippage_respected",
			Description: "A swap pays out at least the minimum the caller accepted.",
			Expr: ir.Binary{
				Op:    ir.OpGe,
				Left:  acct("amount_out"),
				Right: acct("min_amount_out"),
			},
			Phases:   []ir.Phase{ir.PhaseSettlement},
			Severity: ir.SeverityHigh,
		}),
		def(ir.InvariantDecl{
			Name:        "defense.deadline_respected",
			Description: "A transaction executes no later than its deadline.",
			Expr: ir.Binary{
				Op:    ir.OpLe,
				Left:  proto("block_time"),
				Right: proto("deadline"),
			},
			Phases:   []ir.Phase{ir.PhaseExecution},
			Severity: ir.SeverityMedium,
		}),
	}
}

// Defensive returns a registry holding the defensive invariants and the
// variables they require.
func Defensive() (*Registry, error) {
	r := New()
	for _, v := range DefensiveVars() {
		if err := r.Require(v); err != nil {
			return nil, err
		}
	}
	for _, d := range Defenses() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
