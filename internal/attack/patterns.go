package attack

import (
	"regexp"

	"github.com/roach88/invar/internal/codegen"
)

var allChains = []codegen.Chain{codegen.ChainEVM, codegen.ChainMove, codegen.ChainSolana}

var (
	externalCall  = regexp.MustCompile(`\btransfer\(|\.call[({]|\.send\(`)
	reentrantSafe = regexp.MustCompile(`\bnonReentrant\b`)
	balanceZeroed = regexp.MustCompile(`\bbalances?\b(\[[^\]]*\])?\s*=\s*0\b`)
)

// checkReentrancy flags external calls with no balance update in the
// lines before them. A nonReentrant line is never flagged.
func checkReentrancy(lines []string) []int {
	var out []int
	for i, line := range lines {
		if !externalCall.MatchString(line) || reentrantSafe.MatchString(line) {
			continue
		}
		updated := false
		for _, prev := range lines[max(0, i-reentrancyWindow):i] {
			if balanceZeroed.MatchString(prev) {
				updated = true
				break
			}
		}
		if !updated {
			out = append(out, i)
		}
	}
	return out
}

func known() []*Pattern {
	return []*Pattern{
		{
			ID:          "reentrancy",
			Name:        "Reentrancy",
			Description: "An external call re-enters the contract before its state update completes.",
			Year:        2016,
			Incidents:   []string{"The DAO (2016), $50M lost"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        9.8,
			Markers:     []*regexp.Regexp{externalCall},
			Defenses:    []string{"aa.reentrancy_released", "defense.reserves_cover_balances"},
			check:       checkReentrancy,
		},
		{
			ID:          "integer_overflow",
			Name:        "Integer Overflow/Underflow",
			Description: "Arithmetic wraps past the bounds of its type.",
			Year:        2018,
			Incidents:   []string{"BEC Token (2018), $7.6M frozen", "BeautyChain (2018) batch transfer"},
			Chains:      allChains,
			CVSS:        8.5,
			Markers: []*regexp.Regexp{
				regexp.MustCompile(`\bunchecked\s*\{`),
				regexp.MustCompile(`\bwrapping_(add|sub|mul)\b`),
				regexp.MustCompile(`\bunchecked_(add|sub|mul)\b`),
			},
			Defenses: []string{"defense.supply_conserved", "defense.reserves_cover_balances"},
		},
		{
			ID:          "access_control_bypass",
			Name:        "Access Control Bypass",
			Description: "A privileged operation runs without checking who called it.",
			Year:        2017,
			Incidents:   []string{"Parity Wallet (2017), $30M frozen"},
			Chains:      allChains,
			CVSS:        9.9,
			Markers: []*regexp.Regexp{
				regexp.MustCompile(`\btx\.origin\b`),
				regexp.MustCompile(`\bUncheckedAccount\b`),
			},
			Defenses: []string{"aa.signature_valid", "aa.entrypoint_caller", "defense.owner_unchanged"},
		},
		{
			ID:          "flash_loan",
			Name:        "Flash Loan Attack",
			Description: "Borrowed liquidity manipulates a price within one transaction.",
			Year:        2020,
			Incidents:   []string{"bZx (2020), $950K lost", "Harvest Finance (2020), $34M lost"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        8.7,
			Markers: []*regexp.Regexp{
				regexp.MustCompile(`\bflashLoan\b`),
				regexp.MustCompile(`\bgetReserves\(`),
				regexp.MustCompile(`\bslot0\(`),
			},
			Defenses: []string{"defense.collateral_covers_debt", "defense.price_within_band"},
		},
		{
			ID:          "frontrunning",
			Name:        "Frontrunning / MEV Extraction",
			Description: "A pending transaction is observed and overtaken.",
			Year:        2018,
			Incidents:   []string{"General since Ethereum launch"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        7.5,
			Markers: []*regexp.Regexp{
				regexp.MustCompile(`\bamountOutMin(imum)?\s*[:=]\s*0\b`),
				regexp.MustCompile(`\bdeadline\s*[:=]\s*type\(uint256\)\.max`),
			},
			Defenses: []string{"defense.slippage_respected", "defense.deadline_respected"},
		},
		{
			ID:          "type_confusion",
			Name:        "Type Confusion / Implicit Conversion",
			Description: "A conversion changes how a value compares or is interpreted.",
			Year:        2019,
			Incidents:   []string{"Multiplier Finance (2021), $1M lost"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        7.2,
			Markers: []*regexp.Regexp{
				regexp.MustCompile(`\buint160\(`),
				regexp.MustCompile(`\bint\d*\(\s*uint\d*\(`),
			},
		},
		{
			ID:          "delegatecall_misuse",
			Name:        "Delegatecall to Untrusted Code",
			Description: "The contract delegatecalls an address an attacker can choose.",
			Year:        2016,
			Incidents:   []string{"King of the Ether (2016)"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        9.8,
			Markers:     []*regexp.Regexp{regexp.MustCompile(`\.delegatecall\(`)},
			Defenses:    []string{"defense.owner_unchanged"},
		},
		{
			ID:          "timestamp_dependence",
			Name:        "Timestamp Dependence",
			Description: "Logic depends on a block value the producer can skew.",
			Year:        2015,
			Incidents:   []string{"Lottery and randomness exploits"},
			Chains:      []codegen.Chain{codegen.ChainEVM},
			CVSS:        6.5,
			Markers:     []*regexp.Regexp{regexp.MustCompile(`\bblock\.(timestamp|difficulty|prevrandao)\b`)},
			Defenses:    []string{"defense.deadline_respected"},
		},
	}
}
