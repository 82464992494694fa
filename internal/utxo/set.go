// Package utxo manages the unspent transaction output set: the set of
// TxOutputs not yet consumed by a later input. Every block either adds
// outputs (from its transactions) or removes them (when later spent);
// internal/chain drives both directions through Apply/Revert, using
// the undo journal written by Apply to make a revert exact even when
// the spent output's original data is no longer reachable any other
// way.
package utxo

import (
	"github.com/rusty-coin/core/pkg/types"
)

// Entry is a stored unspent output: a TxOutput plus the provenance
// needed to enforce coinbase maturity.
type Entry struct {
	Output         types.TxOutput `json:"output"`
	IsCoinbase     bool           `json:"is_coinbase"`
	CreationHeight uint64         `json:"creation_height"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.OutPoint) (*Entry, error)
	Put(outpoint types.OutPoint, entry *Entry) error
	Delete(outpoint types.OutPoint) error
	Has(outpoint types.OutPoint) (bool, error)
}
