package core_test

import (
	"testing"

	"ledgervm/core"
)

const watTxNoop = `
(module
  (memory (export "memory") 1)
  (func (export "_apply_tx") (param i64 i64))
)
`

const watTxMissingEntrypoint = `
(module
  (memory (export "memory") 1)
  (func (export "not_apply_tx") (param i64 i64))
)
`

const watTxFiveNops = `
(module
  (memory (export "memory") 1)
  (func (export "_apply_tx") (param i64 i64)
    nop nop nop nop nop)
)
`

// watTxRecurse calls itself 20000 times before returning, deep enough to
// exceed WasmStackLimit/4 nested call frames under the stack instrumenter.
const watTxRecurse = `
(module
  (memory (export "memory") 1)
  (func $recurse (param $n i32)
    (if (i32.gt_s (local.get $n) (i32.const 0))
      (then (call $recurse (i32.sub (local.get $n) (i32.const 1))))))
  (func (export "_apply_tx") (param i64 i64)
    (call $recurse (i32.const 20000)))
)
`

func newTxRunner(t *testing.T) *core.TxRunner {
	t.Helper()
	r, err := core.NewTxRunner(core.MemoryLimits{InitialPages: 2, MaxPages: 16})
	if err != nil {
		t.Fatalf("NewTxRunner: %v", err)
	}
	return r
}

func TestTxRunnerNoop(t *testing.T) {
	r := newTxRunner(t)
	wasm := compileWAT(t, watTxNoop)

	storage := core.NewMemStorage()
	wl := core.NewWriteLog(storage)
	gm := core.NewBlockGasMeter(1_000_000)

	verifiers, err := r.Run(storage, wl, gm, core.ChainContext{ChainID: "test"}, wasm, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if verifiers.Len() != 0 {
		t.Fatalf("expected no verifiers from a no-op tx, got %d", verifiers.Len())
	}
}

func TestTxRunnerMissingEntrypoint(t *testing.T) {
	r := newTxRunner(t)
	wasm := compileWAT(t, watTxMissingEntrypoint)

	storage := core.NewMemStorage()
	wl := core.NewWriteLog(storage)
	gm := core.NewBlockGasMeter(1_000_000)

	_, err := r.Run(storage, wl, gm, core.ChainContext{}, wasm, nil)
	if !core.IsKind(err, core.KindMissingModuleEntrypoint) {
		t.Fatalf("expected MissingModuleEntrypoint, got %v", err)
	}
}

func TestTxRunnerGasExceeded(t *testing.T) {
	r := newTxRunner(t)
	wasm := compileWAT(t, watTxFiveNops)

	storage := core.NewMemStorage()
	wl := core.NewWriteLog(storage)
	gm := core.NewBlockGasMeter(2) // far less than the instrumented instruction count

	_, err := r.Run(storage, wl, gm, core.ChainContext{}, wasm, nil)
	if err == nil {
		t.Fatal("expected a trap from gas exhaustion")
	}
	if !core.IsKind(err, core.KindRuntimeError) {
		t.Fatalf("expected RuntimeError (trapped guest), got %v", err)
	}
}

func TestTxRunnerStackOverflow(t *testing.T) {
	r := newTxRunner(t)
	wasm := compileWAT(t, watTxRecurse)

	storage := core.NewMemStorage()
	wl := core.NewWriteLog(storage)
	gm := core.NewBlockGasMeter(1_000_000_000)

	_, err := r.Run(storage, wl, gm, core.ChainContext{}, wasm, nil)
	if err == nil {
		t.Fatal("expected deep recursion to trap the stack limiter")
	}
	if !core.IsKind(err, core.KindRuntimeError) {
		t.Fatalf("expected RuntimeError (trapped guest), got %v", err)
	}
}
