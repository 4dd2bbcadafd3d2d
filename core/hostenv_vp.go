// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// maxEvalDepth bounds vp_eval recursion. §9's open questions note the
// original imposes no bound beyond gas; this adds a defensive ceiling, the
// decision recorded in DESIGN.md.
const maxEvalDepth = 32

// vpEnv is the per-invocation context a VpRunner's host imports close
// over. All handles except gasMeter and iterators are immutable-shared
// across parallel VP invocations against the same post-Tx snapshot.
type vpEnv struct {
	instance     *wasmer.Instance
	preStorage   Storage
	postStorage  Storage
	gasMeter     *VpGasMeter
	iteratorsPre *PrefixIterators
	iteratorsPo  *PrefixIterators
	addr         Address
	txData       []byte
	keysChanged  [][]byte
	verifiers    *VerifierSet
	chain        ChainContext
	runner       *VpRunner
	depth        int
	logs         []string
}

func (e *vpEnv) charge(cost uint64) error {
	if err := e.gasMeter.Consume(cost); err != nil {
		return errGuestTrap
	}
	return nil
}

// buildVpImports wires the VP host-call table named in §4.4: read_pre,
// read_post, has_key_pre, has_key_post, iter_prefix, iter_pre_next,
// iter_post_next, get_chain_id, get_block_height, get_block_hash, eval,
// log_string, gas.
func buildVpImports(store *wasmer.Store, env *vpEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	gasFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(uint64(args[0].I32())); err != nil {
				return nil, err
			}
			return nil, nil
		})

	mkRead := func(storage func() Storage) *wasmer.Function {
		return wasmer.NewFunction(store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if err := env.charge(costRead); err != nil {
					return nil, err
				}
				mem, err := GuestMemory(env.instance)
				if err != nil {
					return nil, errGuestTrap
				}
				key, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
				if err != nil {
					return nil, errGuestTrap
				}
				val, ok, err := storage().Read(key)
				if err != nil {
					return nil, errGuestTrap
				}
				if !ok {
					return []wasmer.Value{i64(-1)}, nil
				}
				h, err := PutBytes(env.instance, val)
				if err != nil {
					return nil, errGuestTrap
				}
				return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
			})
	}

	mkHasKey := func(storage func() Storage) *wasmer.Function {
		return wasmer.NewFunction(store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if err := env.charge(costHasKey); err != nil {
					return nil, err
				}
				mem, err := GuestMemory(env.instance)
				if err != nil {
					return nil, errGuestTrap
				}
				key, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
				if err != nil {
					return nil, errGuestTrap
				}
				ok, err := storage().HasKey(key)
				if err != nil {
					return nil, errGuestTrap
				}
				if ok {
					return []wasmer.Value{i64(1)}, nil
				}
				return []wasmer.Value{i64(0)}, nil
			})
	}

	mkIterPrefix := func(storage func() Storage, iters func() *PrefixIterators) *wasmer.Function {
		return wasmer.NewFunction(store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if err := env.charge(costIterPrefix); err != nil {
					return nil, err
				}
				mem, err := GuestMemory(env.instance)
				if err != nil {
					return nil, errGuestTrap
				}
				prefix, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
				if err != nil {
					return nil, errGuestTrap
				}
				it, err := storage().IterPrefix(prefix)
				if err != nil {
					return nil, errGuestTrap
				}
				handle := iters().Insert(it)
				return []wasmer.Value{i64(int64(handle))}, nil
			})
	}

	mkIterNext := func(iters func() *PrefixIterators) *wasmer.Function {
		return wasmer.NewFunction(store,
			wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if err := env.charge(costIterNext); err != nil {
					return nil, err
				}
				it, ok := iters().Get(uint64(args[0].I64()))
				if !ok || !it.Next() {
					return []wasmer.Value{i64(-1)}, nil
				}
				encoded := encodeKV(it.Key(), it.Value())
				h, err := PutBytes(env.instance, encoded)
				if err != nil {
					return nil, errGuestTrap
				}
				return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
			})
	}

	preStorage := func() Storage { return env.preStorage }
	postStorage := func() Storage { return env.postStorage }
	iterPre := func() *PrefixIterators { return env.iteratorsPre }
	iterPost := func() *PrefixIterators { return env.iteratorsPo }

	chainIDFn, blockHeightFn, blockHashFn := chainMetaFuncs(store, func() *wasmer.Instance { return env.instance }, &env.chain, env.charge)

	logFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costLogString); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			msg, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			env.logs = append(env.logs, string(msg))
			logrus.WithField("runner", "vp").Debug(string(msg))
			return nil, nil
		})

	evalFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64, wasmer.I64, wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costEval); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			vpCode, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			inputData, err := ReadBytes(mem, argU32(args, 2), argU32(args, 3))
			if err != nil {
				return nil, errGuestTrap
			}
			if env.depth+1 > maxEvalDepth {
				return nil, errGuestTrap
			}
			accept, err := env.runner.evalNested(env, vpCode, inputData)
			if err != nil {
				// Any runtime error in the nested VP converts to reject,
				// per §4.4's vp_eval contract, not a trap of the caller.
				return []wasmer.Value{i64(0)}, nil
			}
			if accept {
				return []wasmer.Value{i64(1)}, nil
			}
			return []wasmer.Value{i64(0)}, nil
		})

	imports.Register(envModuleName, map[string]wasmer.IntoExtern{
		"gas":              gasFn,
		"read_pre":         mkRead(preStorage),
		"read_post":        mkRead(postStorage),
		"has_key_pre":      mkHasKey(preStorage),
		"has_key_post":     mkHasKey(postStorage),
		"iter_prefix":      mkIterPrefix(postStorage, iterPost),
		"iter_pre_next":    mkIterNext(iterPre),
		"iter_post_next":   mkIterNext(iterPost),
		"get_chain_id":     chainIDFn,
		"get_block_height": blockHeightFn,
		"get_block_hash":   blockHashFn,
		"eval":             evalFn,
		"log_string":       logFn,
	})
	return imports
}
