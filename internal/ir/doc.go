// Package ir provides the value, type and expression model for invar.
//
// This package contains the shared vocabulary of the engine: typed values,
// the expression AST, layers and phases, invariant declarations, program
// models, the closed error taxonomy and canonical lowering for hashing.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - integer widths are explicit (u8..u128, i8..i64)
//   - Arithmetic is checked; overflow is an error, never a wrap
//   - Iteration over maps, layers and phases is always in sorted order
//   - Canonical lowering is the ONLY input to content hashes
package ir
