// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Per-host-call gas costs. Each host call charges a flat base cost for its
// operation before performing its work, in the teacher's gas_table.go
// tradition (a canonical cost schedule keyed by operation). The charge does
// not depend on the size of the keys, values or other data involved.
const (
	costRead             uint64 = 10
	costHasKey           uint64 = 5
	costWrite            uint64 = 20
	costDelete           uint64 = 10
	costIterPrefix       uint64 = 15
	costIterNext         uint64 = 5
	costInsertVerifier   uint64 = 5
	costUpdateVP         uint64 = 50
	costInitAccount      uint64 = 50
	costChainMeta        uint64 = 2
	costLogString        uint64 = 5
	costEval             uint64 = 100
	costSendMatch        uint64 = 20
	costUpdateData       uint64 = 20
	costRemoveIntents    uint64 = 10
)

// errGuestTrap is returned by a host closure to make wasmer-go trap the
// guest call; used whenever a host call's gas charge exceeds the ceiling,
// per §4.4's failure semantics table.
var errGuestTrap = errors.New("core: host call trapped guest")

func i64(v int64) wasmer.Value { return wasmer.NewI64(v) }

func argU32(args []wasmer.Value, i int) uint32 { return uint32(args[i].I64()) }

// asI64 unwraps a wasmer-go entrypoint call result (an interface{} boxing
// whatever concrete numeric type the library chose) into an int64, for
// runners that interpret a guest's return code (VP, MM, filter).
func asI64(result interface{}) (int64, error) {
	switch v := result.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	default:
		return 0, errors.New("core: entrypoint did not return an i32/i64")
	}
}

// txEnv is the per-invocation context a TxRunner's host imports close over.
// It is the single context record Design Notes option (a) calls for,
// replacing the original source's raw-pointer EnvHostWrapper family.
type txEnv struct {
	instance    *wasmer.Instance
	writeLog    *WriteLog
	gasMeter    *BlockGasMeter
	verifiers   *VerifierSet
	iterators   *PrefixIterators
	chain       ChainContext
	updatedVPs  map[Address][]byte
	initialized []Address
	logs        []string
}

func newTxEnv(wl *WriteLog, gm *BlockGasMeter, chain ChainContext) *txEnv {
	return &txEnv{
		writeLog:   wl,
		gasMeter:   gm,
		verifiers:  NewVerifierSet(),
		iterators:  NewPrefixIterators(),
		chain:      chain,
		updatedVPs: make(map[Address][]byte),
	}
}

func (e *txEnv) charge(cost uint64) error {
	if err := e.gasMeter.Consume(cost); err != nil {
		return errGuestTrap
	}
	return nil
}

// buildTxImports wires the Tx host-call table named in §4.4: read, has_key,
// write, delete, iter_prefix, iter_next, insert_verifier,
// update_validity_predicate, init_account, get_chain_id, get_block_height,
// get_block_hash, log_string, gas.
func buildTxImports(store *wasmer.Store, env *txEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	gasFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(uint64(args[0].I32())); err != nil {
				return nil, err
			}
			return nil, nil
		})

	readFn := wasmer.NewFunction(store,
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
			val, ok, err := env.writeLog.Read(key)
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

	hasKeyFn := wasmer.NewFunction(store,
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
			ok, err := env.writeLog.HasKey(key)
			if err != nil {
				return nil, errGuestTrap
			}
			if ok {
				return []wasmer.Value{i64(1)}, nil
			}
			return []wasmer.Value{i64(0)}, nil
		})

	writeFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64, wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costWrite); err != nil {
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
			val, err := ReadBytes(mem, argU32(args, 2), argU32(args, 3))
			if err != nil {
				return nil, errGuestTrap
			}
			env.writeLog.Write(key, val)
			return nil, nil
		})

	deleteFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costDelete); err != nil {
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
			env.writeLog.Delete(key)
			return nil, nil
		})

	iterPrefixFn := wasmer.NewFunction(store,
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
			it, err := env.writeLog.IterPrefix(prefix)
			if err != nil {
				return nil, errGuestTrap
			}
			handle := env.iterators.Insert(it)
			return []wasmer.Value{i64(int64(handle))}, nil
		})

	iterNextFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costIterNext); err != nil {
				return nil, err
			}
			it, ok := env.iterators.Get(uint64(args[0].I64()))
			if !ok {
				return []wasmer.Value{i64(-1)}, nil
			}
			if !it.Next() {
				return []wasmer.Value{i64(-1)}, nil
			}
			encoded := encodeKV(it.Key(), it.Value())
			h, err := PutBytes(env.instance, encoded)
			if err != nil {
				return nil, errGuestTrap
			}
			return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
		})

	insertVerifierFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costInsertVerifier); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			raw, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil || len(raw) != 20 {
				return nil, errGuestTrap
			}
			var addr Address
			copy(addr[:], raw)
			env.verifiers.Insert(addr)
			return nil, nil
		})

	updateVPFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64, wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costUpdateVP); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			raw, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil || len(raw) != 20 {
				return nil, errGuestTrap
			}
			code, err := ReadBytes(mem, argU32(args, 2), argU32(args, 3))
			if err != nil {
				return nil, errGuestTrap
			}
			var addr Address
			copy(addr[:], raw)
			env.updatedVPs[addr] = code
			return nil, nil
		})

	initAccountFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costInitAccount); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			code, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			addr := DeriveContractAddress(AddressZero, code)
			env.initialized = append(env.initialized, addr)
			h, err := PutBytes(env.instance, addr[:])
			if err != nil {
				return nil, errGuestTrap
			}
			return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
		})

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
			logrus.WithField("runner", "tx").Debug(string(msg))
			return nil, nil
		})

	imports.Register(envModuleName, map[string]wasmer.IntoExtern{
		"gas":                       gasFn,
		"read":                      readFn,
		"has_key":                   hasKeyFn,
		"write":                     writeFn,
		"delete":                    deleteFn,
		"iter_prefix":               iterPrefixFn,
		"iter_next":                 iterNextFn,
		"insert_verifier":           insertVerifierFn,
		"update_validity_predicate": updateVPFn,
		"init_account":              initAccountFn,
		"get_chain_id":              chainIDFn,
		"get_block_height":          blockHeightFn,
		"get_block_hash":            blockHashFn,
		"log_string":                logFn,
	})
	return imports
}

// chainMetaFuncs builds the three chain-metadata host calls shared by Tx
// and VP import tables. getInstance is called at invocation time (not
// build time), since the instance does not exist yet when imports are
// constructed — it is the thing being instantiated with these imports.
func chainMetaFuncs(store *wasmer.Store, getInstance func() *wasmer.Instance, chain *ChainContext, charge func(uint64) error) (*wasmer.Function, *wasmer.Function, *wasmer.Function) {
	chainIDFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(costChainMeta); err != nil {
				return nil, err
			}
			h, err := PutBytes(getInstance(), []byte(chain.ChainID))
			if err != nil {
				return nil, errGuestTrap
			}
			return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
		})
	blockHeightFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(costChainMeta); err != nil {
				return nil, err
			}
			return []wasmer.Value{i64(int64(chain.BlockHeight))}, nil
		})
	blockHashFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(wasmer.I64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(costChainMeta); err != nil {
				return nil, err
			}
			h, err := PutBytes(getInstance(), chain.BlockHash[:])
			if err != nil {
				return nil, errGuestTrap
			}
			return []wasmer.Value{i64(int64(uint64(h.Ptr)<<32 | uint64(h.Len)))}, nil
		})
	return chainIDFn, blockHeightFn, blockHashFn
}

// encodeKV packs a (key, value) pair returned by iter_next into a single
// buffer the guest can split: a u32 key length prefix followed by key then
// value.
func encodeKV(key, value []byte) []byte {
	out := make([]byte, 4+len(key)+len(value))
	out[0] = byte(len(key))
	out[1] = byte(len(key) >> 8)
	out[2] = byte(len(key) >> 16)
	out[3] = byte(len(key) >> 24)
	copy(out[4:], key)
	copy(out[4+len(key):], value)
	return out
}
