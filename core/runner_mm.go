// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// MatchmakerRunner executes the intent-matching guest module. A single
// matchmaker module is typically kept resident across many intents within
// one node process; like Tx/VP, Run still validates, instruments and
// re-instantiates the module on every call, matching the grounded teacher pattern
// of one wasmer.Instance per invocation rather than reusing instances
// across calls with mutable guest state.
type MatchmakerRunner struct {
	store *wasmer.Store
	cache *ModuleCache
	mem   MemoryLimits
}

func NewMatchmakerRunner(mem MemoryLimits) (*MatchmakerRunner, error) {
	store, err := newDeterministicStore()
	if err != nil {
		return nil, err
	}
	return &MatchmakerRunner{store: store, cache: NewModuleCache(store), mem: mem}, nil
}

// Run calls _match_intent(data_ptr, data_len, intent_id_ptr, intent_id_len,
// intent_data_ptr, intent_data_len) per §4.3. The return convention is
// inverted relative to VP (§9 open question): 0 means a match was
// found, any nonzero means no match; the filter uses the same 0-is-success
// convention. Run normalizes this so callers always
// read a bool where true means "acted".
func (r *MatchmakerRunner) Run(code, mmData, intentID, intentData []byte, gasMeter *GasMeter, sender MatchmakerSender) (bool, error) {
	if err := Validate(code); err != nil {
		return false, err
	}
	instrumented, err := Prepare(code)
	if err != nil {
		return false, err
	}
	mod, err := r.cache.Compile(instrumented)
	if err != nil {
		return false, err
	}

	env := &mmEnv{sender: sender, gasMeter: gasMeter}
	imports := buildMmImports(r.store, env)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return false, newErr(KindInstantiationError, err)
	}
	defer instance.Close()
	env.instance = instance

	if _, err := GuestMemory(instance); err != nil {
		return false, err
	}

	handles, err := WriteInputs(instance, mmData, intentID, intentData)
	if err != nil {
		return false, err
	}

	entry, err := instance.Exports.GetFunction("_match_intent")
	if err != nil || entry == nil {
		return false, newErr(KindMissingModuleEntrypoint, err)
	}

	result, err := entry(
		int64(handles[0].Ptr), int64(handles[0].Len),
		int64(handles[1].Ptr), int64(handles[1].Len),
		int64(handles[2].Ptr), int64(handles[2].Len),
	)
	if err != nil {
		return false, classifyTrap("_match_intent", err)
	}

	code64, err := asI64(result)
	if err != nil {
		return false, entrypointErr("_match_intent", err)
	}
	return code64 == 0, nil
}
