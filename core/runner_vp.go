// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// VpRunner is safe for parallel invocation across different VP instances
// against the same post-Tx snapshot. Grounded on the original source's
// VpRunner, including its nested run_eval path for vp_eval.
type VpRunner struct {
	store *wasmer.Store
	cache *ModuleCache
	mem   MemoryLimits
}

func NewVpRunner(mem MemoryLimits) (*VpRunner, error) {
	store, err := newDeterministicStore()
	if err != nil {
		return nil, err
	}
	return &VpRunner{store: store, cache: NewModuleCache(store), mem: mem}, nil
}

// VpInput is the per-VP payload named in §3.
type VpInput struct {
	Addr        Address
	TxData      []byte
	KeysChanged [][]byte
	Verifiers   []Address
}

// Run instantiates vpCode against the given pre/post storage views and
// returns whether the VP accepts. preStorage is the state as of the start
// of the Tx; postSnapshot is the Tx's WriteLog overlay, frozen.
func (r *VpRunner) Run(preStorage, postSnapshot Storage, vpGasMeter *VpGasMeter, chain ChainContext, vpCode []byte, input VpInput) (bool, error) {
	env := &vpEnv{
		preStorage:   preStorage,
		postStorage:  postSnapshot,
		gasMeter:     vpGasMeter,
		iteratorsPre: NewPrefixIterators(),
		iteratorsPo:  NewPrefixIterators(),
		addr:         input.Addr,
		txData:       input.TxData,
		keysChanged:  input.KeysChanged,
		verifiers:    NewVerifierSet(),
		chain:        chain,
	}
	for _, a := range input.Verifiers {
		env.verifiers.Insert(a)
	}
	env.runner = r
	return r.invoke(env, vpCode, input)
}

func (r *VpRunner) invoke(env *vpEnv, vpCode []byte, input VpInput) (bool, error) {
	if err := Validate(vpCode); err != nil {
		return false, err
	}
	instrumented, err := Prepare(vpCode)
	if err != nil {
		return false, err
	}
	mod, err := r.cache.Compile(instrumented)
	if err != nil {
		return false, err
	}

	imports := buildVpImports(r.store, env)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return false, newErr(KindInstantiationError, err)
	}
	defer instance.Close()
	env.instance = instance

	if _, err := GuestMemory(instance); err != nil {
		return false, err
	}

	addrBytes := input.Addr[:]
	keysBlob := encodeList(input.KeysChanged)
	versBlob := encodeList(addressesToBytes(input.Verifiers))

	handles, err := WriteInputs(instance, addrBytes, input.TxData, keysBlob, versBlob)
	if err != nil {
		return false, err
	}

	entry, err := instance.Exports.GetFunction("_validate_tx")
	if err != nil || entry == nil {
		return false, newErr(KindMissingModuleEntrypoint, err)
	}

	result, err := entry(
		int64(handles[0].Ptr), int64(handles[0].Len),
		int64(handles[1].Ptr), int64(handles[1].Len),
		int64(handles[2].Ptr), int64(handles[2].Len),
		int64(handles[3].Ptr), int64(handles[3].Len),
	)
	if err != nil {
		return false, classifyTrap("_validate_tx", err)
	}

	verdict, err := asI64(result)
	if err != nil {
		return false, entrypointErr("_validate_tx", err)
	}
	// Entrypoint boolean mapping (§8 property 7): VP returns true iff the
	// guest returned 1.
	return verdict == 1, nil
}

// evalNested runs vpCode as a nested VP sharing the caller env's storage
// snapshot, gas meter, keys_changed, and verifiers — the original source's
// run_eval. Any runtime error converts to reject at the caller (hostenv_vp
// does that conversion); evalNested itself still returns the error so the
// caller can tell the difference between "rejected" and "trapped".
func (r *VpRunner) evalNested(caller *vpEnv, vpCode, inputData []byte) (bool, error) {
	nested := &vpEnv{
		preStorage:   caller.preStorage,
		postStorage:  caller.postStorage,
		gasMeter:     caller.gasMeter,
		iteratorsPre: NewPrefixIterators(),
		iteratorsPo:  NewPrefixIterators(),
		addr:         caller.addr,
		txData:       inputData,
		keysChanged:  caller.keysChanged,
		verifiers:    caller.verifiers,
		chain:        caller.chain,
		runner:       r,
		depth:        caller.depth + 1,
	}
	input := VpInput{
		Addr:        caller.addr,
		TxData:      inputData,
		KeysChanged: caller.keysChanged,
		Verifiers:   caller.verifiers.Addresses(),
	}
	return r.invoke(nested, vpCode, input)
}
