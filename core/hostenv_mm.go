// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// mmEnv is the per-invocation context a MatchmakerRunner's host imports
// close over. The runner itself is long-running by convention; mmEnv is
// rebuilt fresh per `run` call and carries the MatchmakerSender passed to
// that call.
type mmEnv struct {
	instance *wasmer.Instance
	sender   MatchmakerSender
	gasMeter *GasMeter
	logs     []string
}

func (e *mmEnv) charge(cost uint64) error {
	if err := e.gasMeter.Consume(cost); err != nil {
		return errGuestTrap
	}
	return nil
}

// buildMmImports wires the MM host-call table: send_match, update_data,
// remove_intents, log_string, gas.
func buildMmImports(store *wasmer.Store, env *mmEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	gasFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(uint64(args[0].I32())); err != nil {
				return nil, err
			}
			return nil, nil
		})

	sendMatchFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64, wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costSendMatch); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			txData, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			idsBlob, err := ReadBytes(mem, argU32(args, 2), argU32(args, 3))
			if err != nil {
				return nil, errGuestTrap
			}
			if env.sender == nil {
				panic("core: matchmaker send_match on a closed channel")
			}
			env.sender <- MatchmakerMessage{Kind: MMMatch, TxData: txData, IntentIDs: splitIDs(idsBlob)}
			return nil, nil
		})

	updateDataFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64, wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costUpdateData); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			id, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			data, err := ReadBytes(mem, argU32(args, 2), argU32(args, 3))
			if err != nil {
				return nil, errGuestTrap
			}
			if env.sender == nil {
				panic("core: matchmaker update_data on a closed channel")
			}
			env.sender <- MatchmakerMessage{Kind: MMUpdate, IntentID: id, NewData: data}
			return nil, nil
		})

	removeIntentsFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I64, wasmer.I64), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(costRemoveIntents); err != nil {
				return nil, err
			}
			mem, err := GuestMemory(env.instance)
			if err != nil {
				return nil, errGuestTrap
			}
			idsBlob, err := ReadBytes(mem, argU32(args, 0), argU32(args, 1))
			if err != nil {
				return nil, errGuestTrap
			}
			if env.sender == nil {
				panic("core: matchmaker remove_intents on a closed channel")
			}
			env.sender <- MatchmakerMessage{Kind: MMRemove, IntentIDs: splitIDs(idsBlob)}
			return nil, nil
		})

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
			logrus.WithField("runner", "mm").Debug(string(msg))
			return nil, nil
		})

	imports.Register(envModuleName, map[string]wasmer.IntoExtern{
		"gas":             gasFn,
		"send_match":      sendMatchFn,
		"update_data":     updateDataFn,
		"remove_intents":  removeIntentsFn,
		"log_string":      logFn,
	})
	return imports
}

// filterEnv is the per-invocation context a FilterRunner's host imports
// close over. FilterRunner is stateless: no storage, no verifiers, no
// channel — only gas and logging.
type filterEnv struct {
	instance *wasmer.Instance
	gasMeter *GasMeter
	logs     []string
}

func (e *filterEnv) charge(cost uint64) error {
	if err := e.gasMeter.Consume(cost); err != nil {
		return errGuestTrap
	}
	return nil
}

// buildFilterImports wires the F host-call table: log_string, gas.
func buildFilterImports(store *wasmer.Store, env *filterEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	gasFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := env.charge(uint64(args[0].I32())); err != nil {
				return nil, err
			}
			return nil, nil
		})

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
			logrus.WithField("runner", "filter").Debug(string(msg))
			return nil, nil
		})

	imports.Register(envModuleName, map[string]wasmer.IntoExtern{
		"gas":        gasFn,
		"log_string": logFn,
	})
	return imports
}

// splitIDs splits a length-prefixed blob of intent ids: repeated (u32 len,
// bytes) records, matching encodeKV's framing convention.
func splitIDs(blob []byte) [][]byte {
	var out [][]byte
	for len(blob) >= 4 {
		n := uint32(blob[0]) | uint32(blob[1])<<8 | uint32(blob[2])<<16 | uint32(blob[3])<<24
		blob = blob[4:]
		if uint32(len(blob)) < n {
			break
		}
		out = append(out, blob[:n])
		blob = blob[n:]
	}
	return out
}
