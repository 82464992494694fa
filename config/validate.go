package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rusty-coin/core/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}

	if cfg.SidechainSync.Mode == "" {
		cfg.SidechainSync.Mode = SidechainSyncNone
	}
	switch cfg.SidechainSync.Mode {
	case SidechainSyncAll, SidechainSyncNone:
		cfg.SidechainSync.ChainIDs = nil
	case SidechainSyncList:
		if len(cfg.SidechainSync.ChainIDs) == 0 {
			return fmt.Errorf("sidechain.sync=list requires at least one chain ID")
		}
	default:
		return fmt.Errorf("sidechain.sync must be all, none, or list")
	}

	if err := validateChainIDs(cfg.SidechainSync.ChainIDs, "sidechain.sync"); err != nil {
		return err
	}
	if len(cfg.SidechainSync.ChainIDs) > MaxFollowedSidechains {
		return fmt.Errorf("sidechain.sync has %d IDs, max is %d", len(cfg.SidechainSync.ChainIDs), MaxFollowedSidechains)
	}

	return nil
}

func validateChainIDs(ids []string, field string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		s := strings.ToLower(strings.TrimSpace(id))
		if s == "" {
			return fmt.Errorf("%s[%d] is empty", field, i)
		}
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != types.HashSize {
			return fmt.Errorf("%s[%d] must be 32-byte hex chain ID", field, i)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("%s has duplicate chain ID %q", field, s)
		}
		seen[s] = struct{}{}
		ids[i] = s
	}
	return nil
}
