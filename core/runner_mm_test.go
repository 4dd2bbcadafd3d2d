package core_test

import (
	"testing"

	"ledgervm/core"
)

const watMmMatch = `
(module
  (memory (export "memory") 1)
  (func (export "_match_intent")
    (param i64 i64 i64 i64 i64 i64) (result i64)
    (i64.const 0))
)
`

const watMmNoMatch = `
(module
  (memory (export "memory") 1)
  (func (export "_match_intent")
    (param i64 i64 i64 i64 i64 i64) (result i64)
    (i64.const 1))
)
`

func newMatchmakerRunner(t *testing.T) *core.MatchmakerRunner {
	t.Helper()
	r, err := core.NewMatchmakerRunner(core.MemoryLimits{InitialPages: 2, MaxPages: 16})
	if err != nil {
		t.Fatalf("NewMatchmakerRunner: %v", err)
	}
	return r
}

func TestMatchmakerRunnerMatch(t *testing.T) {
	r := newMatchmakerRunner(t)
	wasm := compileWAT(t, watMmMatch)
	gm := core.NewGasMeter(1_000_000)

	matched, err := r.Run(wasm, []byte("mm-data"), []byte("intent-id"), []byte("intent-data"), gm, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !matched {
		t.Fatal("expected a match")
	}
}

func TestMatchmakerRunnerNoMatch(t *testing.T) {
	r := newMatchmakerRunner(t)
	wasm := compileWAT(t, watMmNoMatch)
	gm := core.NewGasMeter(1_000_000)

	matched, err := r.Run(wasm, []byte("mm-data"), []byte("intent-id"), []byte("intent-data"), gm, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if matched {
		t.Fatal("expected no match")
	}
}
