// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// newDeterministicStore builds a wasmer-go Store backed by the Singlepass
// compiler. Singlepass is the only backend in the wasmer-go compiler set
// whose generated code does not vary by host CPU features, which is what
// §9's determinism note requires of "the single-pass compiler backend".
func newDeterministicStore() (*wasmer.Store, error) {
	config := wasmer.NewConfig().UseSinglepassCompiler()
	engine := wasmer.NewEngineWithConfig(config)
	return wasmer.NewStore(engine), nil
}
