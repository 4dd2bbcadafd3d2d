// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an account or guest module on the ledger.
type Address [20]byte

// AddressZero is the reserved all-zero address.
var AddressZero = Address{}

// AddressFromCommon converts a go-ethereum common.Address into an Address.
func AddressFromCommon(a common.Address) Address {
	var out Address
	copy(out[:], a.Bytes())
	return out
}

// Common converts an Address into a go-ethereum common.Address.
func (a Address) Common() common.Address {
	return common.BytesToAddress(a[:])
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == AddressZero
}

// Hash is a 32-byte digest, used for module content hashes and block hashes.
type Hash [32]byte

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// HashModule derives the content hash of a compiled or raw guest module.
// Grounded on the teacher's DeriveContractAddress, which hashes code bytes
// with a keccak-family digest before truncating to an address; here the
// full digest is kept since module identity, not an account address, is
// what callers key the compiled-module cache on.
func HashModule(code []byte) Hash {
	return Hash(crypto.Keccak256Hash(code))
}

// DeriveContractAddress derives the address a freshly deployed guest module
// would be assigned, following the teacher's creator+code convention.
func DeriveContractAddress(creator Address, code []byte) Address {
	sum := crypto.Keccak256(creator[:], code)
	var out Address
	copy(out[:], sum[12:])
	return out
}
