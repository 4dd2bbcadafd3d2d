// SPDX-License-Identifier: BUSL-1.1
package core

// ChainContext is the small slice of block/chain metadata the host exposes
// to guests via get_chain_id / get_block_height / get_block_hash. Owned
// and supplied by the external collaborator that drives the runners; the
// core only reads it.
type ChainContext struct {
	ChainID     string
	BlockHeight uint64
	BlockHash   Hash
}
