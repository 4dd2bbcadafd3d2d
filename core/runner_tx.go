// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"errors"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// TxRunner executes one Tx module at a time per block. Grounded on the
// original source's TxRunner, which owns a Singlepass/JIT compilation
// store; reimplemented here over wasmer-go's Store/Engine, following the
// teacher's HeavyVM.Execute wiring of store, module, instance, and
// host-function imports.
type TxRunner struct {
	store *wasmer.Store
	cache *ModuleCache
	mem   MemoryLimits
}

// NewTxRunner builds a runner whose compilation backend is fixed at
// construction, per §6.
func NewTxRunner(mem MemoryLimits) (*TxRunner, error) {
	store, err := newDeterministicStore()
	if err != nil {
		return nil, err
	}
	return &TxRunner{store: store, cache: NewModuleCache(store), mem: mem}, nil
}

// Run validates, instruments, compiles, and instantiates txCode, writes
// txData into guest memory, and calls _apply_tx. On success it returns the
// VerifierSet accumulated via insert_verifier; on any failure the caller
// must discard whatever WriteLog mutations happened and treat the Tx as
// failed.
func (r *TxRunner) Run(storage Storage, wl *WriteLog, gasMeter *BlockGasMeter, chain ChainContext, txCode, txData []byte) (*VerifierSet, error) {
	if err := Validate(txCode); err != nil {
		return nil, err
	}
	instrumented, err := Prepare(txCode)
	if err != nil {
		return nil, err
	}
	mod, err := r.cache.Compile(instrumented)
	if err != nil {
		return nil, err
	}

	env := newTxEnv(wl, gasMeter, chain)
	imports := buildTxImports(r.store, env)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, newErr(KindInstantiationError, err)
	}
	defer instance.Close()
	env.instance = instance

	if _, err := GuestMemory(instance); err != nil {
		return nil, err
	}

	handles, err := WriteInputs(instance, txData)
	if err != nil {
		return nil, err
	}

	entry, err := instance.Exports.GetFunction("_apply_tx")
	if err != nil || entry == nil {
		return nil, newErr(KindMissingModuleEntrypoint, err)
	}

	_, err = entry(int64(handles[0].Ptr), int64(handles[0].Len))
	if err != nil {
		return nil, classifyTrap("_apply_tx", err)
	}

	return env.verifiers, nil
}

// classifyTrap maps a wasmer-go invocation error to the core's taxonomy.
// A gas-ceiling host trap and a genuine guest trap (stack overflow,
// unreachable) are both reported as RuntimeError; the distinction is
// informational only, carried in the trap string. wasmer-go re-wraps a host
// function's returned error into its own runtime trap type before handing it
// back here, so errGuestTrap never survives as the same error value;
// errors.Is is kept as a cheap first check in case a future wasmer-go
// version does preserve it, with a message-substring fallback for the
// wrapped case that is actually hit today.
func classifyTrap(entry string, err error) error {
	if errors.Is(err, errGuestTrap) || strings.Contains(err.Error(), errGuestTrap.Error()) {
		return trapErr("gas_exceeded")
	}
	return trapErr(err.Error())
}
