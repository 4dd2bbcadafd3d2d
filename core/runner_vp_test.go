package core_test

import (
	"testing"

	"ledgervm/core"
)

const watVpAccept = `
(module
  (memory (export "memory") 1)
  (func (export "_validate_tx")
    (param i64 i64 i64 i64 i64 i64 i64 i64) (result i64)
    (i64.const 1))
)
`

const watVpReject = `
(module
  (memory (export "memory") 1)
  (func (export "_validate_tx")
    (param i64 i64 i64 i64 i64 i64 i64 i64) (result i64)
    (i64.const 0))
)
`

const watVpRecurse = `
(module
  (memory (export "memory") 1)
  (func $recurse (param $n i32)
    (if (i32.gt_s (local.get $n) (i32.const 0))
      (then (call $recurse (i32.sub (local.get $n) (i32.const 1))))))
  (func (export "_validate_tx")
    (param i64 i64 i64 i64 i64 i64 i64 i64) (result i64)
    (call $recurse (i32.const 20000))
    (i64.const 1))
)
`

func newVpRunner(t *testing.T) *core.VpRunner {
	t.Helper()
	r, err := core.NewVpRunner(core.MemoryLimits{InitialPages: 2, MaxPages: 16})
	if err != nil {
		t.Fatalf("NewVpRunner: %v", err)
	}
	return r
}

func TestVpRunnerAccept(t *testing.T) {
	r := newVpRunner(t)
	wasm := compileWAT(t, watVpAccept)

	pre := core.NewMemStorage()
	wl := core.NewWriteLog(pre)
	gm := core.NewVpGasMeter(1_000_000)

	ok, err := r.Run(pre, wl.Snapshot(), gm, core.ChainContext{}, wasm, core.VpInput{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Fatal("expected accept")
	}
}

func TestVpRunnerReject(t *testing.T) {
	r := newVpRunner(t)
	wasm := compileWAT(t, watVpReject)

	pre := core.NewMemStorage()
	wl := core.NewWriteLog(pre)
	gm := core.NewVpGasMeter(1_000_000)

	ok, err := r.Run(pre, wl.Snapshot(), gm, core.ChainContext{}, wasm, core.VpInput{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Fatal("expected reject")
	}
}

func TestVpRunnerStackOverflow(t *testing.T) {
	r := newVpRunner(t)
	wasm := compileWAT(t, watVpRecurse)

	pre := core.NewMemStorage()
	wl := core.NewWriteLog(pre)
	gm := core.NewVpGasMeter(1_000_000_000)

	_, err := r.Run(pre, wl.Snapshot(), gm, core.ChainContext{}, wasm, core.VpInput{})
	if err == nil {
		t.Fatal("expected deep recursion to trap the stack limiter")
	}
	if !core.IsKind(err, core.KindRuntimeError) {
		t.Fatalf("expected RuntimeError (trapped guest), got %v", err)
	}
}
