package core_test

import (
	"testing"

	"ledgervm/core"
)

const watFilterAccept = `
(module
  (memory (export "memory") 1)
  (func (export "_validate_intent") (param i64 i64) (result i64)
    (i64.const 0))
)
`

const watFilterReject = `
(module
  (memory (export "memory") 1)
  (func (export "_validate_intent") (param i64 i64) (result i64)
    (i64.const 1))
)
`

func newFilterRunner(t *testing.T) *core.FilterRunner {
	t.Helper()
	r, err := core.NewFilterRunner(core.MemoryLimits{InitialPages: 2, MaxPages: 16})
	if err != nil {
		t.Fatalf("NewFilterRunner: %v", err)
	}
	return r
}

func TestFilterRunnerAccept(t *testing.T) {
	r := newFilterRunner(t)
	wasm := compileWAT(t, watFilterAccept)
	gm := core.NewGasMeter(1_000_000)

	ok, err := r.Run(wasm, []byte("intent-data"), gm)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Fatal("expected accept")
	}
}

func TestFilterRunnerReject(t *testing.T) {
	r := newFilterRunner(t)
	wasm := compileWAT(t, watFilterReject)
	gm := core.NewGasMeter(1_000_000)

	ok, err := r.Run(wasm, []byte("intent-data"), gm)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Fatal("expected reject")
	}
}
