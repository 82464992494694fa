// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Wallet
	Wallet WalletConfig

	// Mining/Validation (operational, not consensus rules)
	Mining MiningConfig

	// Masternode (operational — local masternode operator settings)
	Masternode MasternodeConfig

	// Sidechain peg-watch (operational — which pegged sidechains to follow locally)
	SidechainSync SidechainSyncConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// MaxFollowedSidechains is the hard cap on concurrently-followed pegged
// sidechains. Each one requires tracking its own anchor chain, so
// unbounded following would be unreasonably expensive.
const MaxFollowedSidechains = 8

// SidechainSyncMode controls which pegged sidechains a node follows.
type SidechainSyncMode string

const (
	SidechainSyncAll  SidechainSyncMode = "all"  // Follow every registered sidechain (default)
	SidechainSyncNone SidechainSyncMode = "none" // Don't follow any sidechain
	SidechainSyncList SidechainSyncMode = "list" // Follow only the chain IDs in the list
)

// SidechainSyncConfig holds sidechain peg-watch settings (per-node, not consensus).
type SidechainSyncConfig struct {
	Mode     SidechainSyncMode `conf:"sidechain.sync"`      // all, none, or list
	ChainIDs []string          `conf:"sidechain.chain_ids"` // Hex chain IDs (when mode=list)
}

// MasternodeConfig holds local masternode operator settings.
type MasternodeConfig struct {
	Enabled    bool   `conf:"masternode.enabled"`
	OperatorKey string `conf:"masternode.operatorkey"` // Path to masternode operator private key
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds/validators)
	ClearBans  bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
	EnableWS    bool     `conf:"rpc.ws"`      // Enable the websocket subscription endpoint.
	WSPort      int      `conf:"rpc.wsport"`
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled  bool   `conf:"wallet.enabled"`
	FilePath string `conf:"wallet.file"`
}

// MiningConfig holds block production settings.
// Note: Whether to mine is a node choice; HOW to validate is protocol.
type MiningConfig struct {
	Enabled  bool   `conf:"mining.enabled"`
	Coinbase string `conf:"mining.coinbase"`
	Threads  int    `conf:"mining.threads"` // Mining threads (PoW)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.rustycoin
//	macOS:   ~/Library/Application Support/RustyCoin
//	Windows: %APPDATA%\RustyCoin
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rustycoin"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "RustyCoin")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "RustyCoin")
		}
		return filepath.Join(home, "AppData", "Roaming", "RustyCoin")
	default:
		return filepath.Join(home, ".rustycoin")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the blocks storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// UTXODir returns the UTXO database directory.
func (c *Config) UTXODir() string {
	return filepath.Join(c.ChainDataDir(), "utxo")
}

// WalletDir returns the wallet storage directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.ChainDataDir(), "wallet")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SidechainsDir returns the pegged-sidechain tracking data directory.
func (c *Config) SidechainsDir() string {
	return filepath.Join(c.ChainDataDir(), "sidechains")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "rustycoin.conf")
}
