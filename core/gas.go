// SPDX-License-Identifier: BUSL-1.1
package core

// GasMeter is a monotonic counter with a configured ceiling. Every host
// call and every instrumented guest instruction charges it; overflow makes
// Consume return GasExceeded, the host traps the guest, and the runner
// reports RuntimeError with trap "gas_exceeded". Grounded on the teacher's
// GasMeter (used/limit fields, Consume/Remaining), generalized into the
// two named variants §3 requires.
type GasMeter struct {
	used  uint64
	limit uint64
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges cost against the meter. It returns *Error{Kind:
// KindGasExceeded} once used would exceed limit; the meter is left at the
// ceiling rather than allowed to wrap or overshoot, so repeated charges
// after exhaustion keep failing instead of silently succeeding.
func (g *GasMeter) Consume(cost uint64) error {
	if g.used+cost > g.limit {
		g.used = g.limit
		return newErr(KindGasExceeded, nil)
	}
	g.used += cost
	return nil
}

func (g *GasMeter) Used() uint64 { return g.used }

func (g *GasMeter) Remaining() uint64 {
	if g.used >= g.limit {
		return 0
	}
	return g.limit - g.used
}

// BlockGasMeter aggregates Tx-level consumption across the block. It wraps
// a GasMeter; TxRunner.Run charges it directly (rather than the VP-scoped
// meter) for every env.gas call and host call a Tx makes.
type BlockGasMeter struct {
	*GasMeter
}

func NewBlockGasMeter(limit uint64) *BlockGasMeter {
	return &BlockGasMeter{GasMeter: NewGasMeter(limit)}
}

// VpGasMeter is per-VP invocation. A nested vp_eval call shares its
// caller's VpGasMeter so gas accrues to the outermost invocation, per
// §4.4's vp_eval contract.
type VpGasMeter struct {
	*GasMeter
}

func NewVpGasMeter(limit uint64) *VpGasMeter {
	return &VpGasMeter{GasMeter: NewGasMeter(limit)}
}
