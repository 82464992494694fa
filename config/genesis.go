package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants.
// 1 coin = 10^12 base units. All on-chain values are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// MaxTokenAmount bounds a single output so ~1000 of them can be summed
// without overflowing uint64.
const MaxTokenAmount = math.MaxUint64 / 1000

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 4_000_000 // 4 MB max block size (header + all tx encodings)
	MaxBlockTxs   = 10_000    // Max transactions per block (including coinbase)
	MaxTxInputs   = 2_500     // Max inputs per transaction
	MaxTxOutputs  = 2_500     // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max script data per output
)

// ConsensusParams is the full set of consensus-critical parameters
// threaded explicitly through every component (spec §9: "no global
// mutable state ... parameters are an explicit value"). It is loaded
// once from Genesis and must be identical across all honest nodes;
// a ParameterChange governance proposal mutates a copy, never this
// value in place.
type ConsensusParams struct {
	// --- Block / PoW (C5) ---
	TargetBlockTime          uint64 `json:"target_block_time"`          // seconds
	MinBlockTime             uint64 `json:"min_block_time"`             // seconds, reject faster blocks
	MaxFutureDrift           uint64 `json:"max_future_drift"`           // seconds, header timestamp vs now
	DifficultyAdjustWindow   uint64 `json:"difficulty_adjustment_window"` // blocks between retargets
	MaxAdjustmentFactor      uint64 `json:"max_adjustment_factor"`      // clamp K (4 == 4x either direction)
	InitialDifficultyBits    uint32 `json:"initial_difficulty_bits"`    // compact bits at genesis
	MinDifficultyBits        uint32 `json:"min_difficulty_bits"`        // easiest allowed target (compact)

	// --- Economics ---
	InitialBlockReward uint64 `json:"initial_block_reward"` // base units, height 0 subsidy
	HalvingInterval    uint64 `json:"halving_interval"`     // blocks between halvings
	MaxSupply          uint64 `json:"max_supply"`           // 0 == unlimited
	MinFeeRate         uint64 `json:"min_fee_rate"`         // base units per encoded byte

	// --- UTXO / maturity (C3) ---
	CoinbaseMaturity uint64 `json:"coinbase_maturity"` // blocks before a coinbase output is spendable

	// --- PoS tickets (C6) ---
	TicketPrice        uint64  `json:"ticket_price"`         // current/starting price, base units
	MinStake           uint64  `json:"min_stake"`            // price floor
	MinConfirmations   uint64  `json:"min_confirmations"`    // blocks until a ticket is eligible
	MaxTicketAge       uint64  `json:"max_ticket_age"`       // blocks until a ticket expires
	TicketMaturity     uint64  `json:"ticket_maturity"`      // alias of MinConfirmations used by purchase flow
	TargetActiveTickets uint64 `json:"target_active_tickets"`
	TicketAdjustFactor  float64 `json:"ticket_price_adjustment_factor"`
	QuorumSize          uint64 `json:"quorum_size"` // tickets drawn per block

	// --- Masternodes (C7) ---
	MasternodeCollateralAmount uint64 `json:"masternode_collateral_amount"`
	MasternodeMaturity         uint64 `json:"masternode_maturity"` // blocks to Active
	ChallengePeriod            uint64 `json:"challenge_period"`    // blocks between PoSe rounds
	PoSeChallengerCount        uint64 `json:"pose_challenger_count"`
	ResponseTimeoutBlocks      uint64 `json:"response_timeout_blocks"`
	MaxConsecutiveFailures     uint64 `json:"max_consecutive_failures"`
	MinMasternodeScore         float64 `json:"min_masternode_score"`

	// --- DKG (C8) ---
	DKGThresholdPercentage  uint64 `json:"dkg_threshold_percentage"` // e.g. 67
	DKGCommitmentTimeout    uint64 `json:"dkg_commitment_timeout_blocks"`
	DKGShareTimeout         uint64 `json:"dkg_share_timeout_blocks"`
	DKGComplaintTimeout     uint64 `json:"dkg_complaint_timeout_blocks"`
	DKGJustifyTimeout       uint64 `json:"dkg_justify_timeout_blocks"`
	SignatureTimeoutBlocks  uint64 `json:"signature_timeout_blocks"`
	MaxConcurrentSignatures uint64 `json:"max_concurrent_signatures"`

	// --- Quorum formation (C9) ---
	QuorumLifetimeOxideSend     uint64 `json:"quorum_lifetime_oxidesend"`
	QuorumLifetimeFerrousShield uint64 `json:"quorum_lifetime_ferrousshield"`
	QuorumLifetimeGovernance    uint64 `json:"quorum_lifetime_governance"`
	QuorumLifetimePoSeChallenger uint64 `json:"quorum_lifetime_poseChallenger"`
	QuorumLifetimeDKGParticipant uint64 `json:"quorum_lifetime_dkgparticipant"`

	// --- Governance (C10) ---
	MinVotingPeriodBlocks    uint64  `json:"min_voting_period_blocks"`
	MaxVotingPeriodBlocks    uint64  `json:"max_voting_period_blocks"`
	ProposalStakeAmount      uint64  `json:"proposal_stake_amount"`
	MinParticipationThreshold float64 `json:"min_participation_threshold"`
	ApprovalThresholdDefault float64 `json:"approval_threshold_default"`
	ActivationDelayBlocks    uint64  `json:"activation_delay_blocks"`
	MaxActivationWindow      uint64  `json:"max_activation_window"`
	BurnDelayBlocks          uint64  `json:"burn_delay_blocks"`

	// --- Snapshots (C11) ---
	SnapshotInterval  uint64 `json:"snapshot_interval"`  // blocks between full snapshots
	MaxSnapshots      uint64 `json:"max_snapshots"`
	MinFastSyncPeers  uint64 `json:"min_fast_sync_peers"`
	MinSnapshotAge    uint64 `json:"min_snapshot_age"` // blocks

	// --- Sidechain / fraud proofs (C13) ---
	MinPegAmount               uint64 `json:"min_peg_amount"`
	MaxPegAmount               uint64 `json:"max_peg_amount"`
	PegConfirmationsRequired   uint64 `json:"peg_confirmations_required"`
	FederationSignaturesNeeded uint64 `json:"federation_signatures_needed"`
	MinChallengeBond           uint64 `json:"min_challenge_bond"`
	FraudVerificationTimeout   uint64 `json:"fraud_verification_timeout_blocks"`
}

// DefaultConsensusParams returns the mainnet parameter set.
func DefaultConsensusParams() ConsensusParams {
	return ConsensusParams{
		TargetBlockTime:        150, // 2.5 minutes
		MinBlockTime:           1,
		MaxFutureDrift:         2 * 60 * 60, // 2 hours
		DifficultyAdjustWindow: 144,
		MaxAdjustmentFactor:    4,
		InitialDifficultyBits:  0x1e0fffff,
		MinDifficultyBits:      0x1e0fffff,

		InitialBlockReward: 50 * Coin,
		HalvingInterval:    210_000,
		MaxSupply:          21_000_000 * Coin,
		MinFeeRate:         1_000,

		CoinbaseMaturity: 100,

		TicketPrice:         2 * Coin,
		MinStake:            2 * Coin,
		MinConfirmations:    16,
		MaxTicketAge:        40_960,
		TicketMaturity:      16,
		TargetActiveTickets: 40_960,
		TicketAdjustFactor:  1.0 / 64.0,
		QuorumSize:          5,

		MasternodeCollateralAmount: 1_000 * Coin,
		MasternodeMaturity:         100,
		ChallengePeriod:            576, // ~1 day at 2.5min blocks
		PoSeChallengerCount:        3,
		ResponseTimeoutBlocks:      8,
		MaxConsecutiveFailures:     3,
		MinMasternodeScore:         0.5,

		DKGThresholdPercentage:  67,
		DKGCommitmentTimeout:    20,
		DKGShareTimeout:         20,
		DKGComplaintTimeout:     20,
		DKGJustifyTimeout:       20,
		SignatureTimeoutBlocks:  10,
		MaxConcurrentSignatures: 16,

		QuorumLifetimeOxideSend:      100,
		QuorumLifetimeFerrousShield:  100,
		QuorumLifetimeGovernance:     1_000,
		QuorumLifetimePoSeChallenger: 576,
		QuorumLifetimeDKGParticipant: 2_016,

		MinVotingPeriodBlocks:     576,    // 1 day
		MaxVotingPeriodBlocks:     40_320, // 70 days
		ProposalStakeAmount:       100 * Coin,
		MinParticipationThreshold: 0.10,
		ApprovalThresholdDefault:  0.60,
		ActivationDelayBlocks:     288,
		MaxActivationWindow:       20_160,
		BurnDelayBlocks:           10,

		SnapshotInterval: 2_016,
		MaxSnapshots:     8,
		MinFastSyncPeers: 3,
		MinSnapshotAge:   144,

		MinPegAmount:               1 * MilliCoin,
		MaxPegAmount:               10_000 * Coin,
		PegConfirmationsRequired:   100,
		FederationSignaturesNeeded: 5,
		MinChallengeBond:           10 * Coin,
		FraudVerificationTimeout:   1_440,
	}
}

// RequiredApprovalThreshold returns the Yes/(Yes+No) ratio a proposal
// of the given type needs to be Approved. Protocol upgrades require
// stronger consensus than routine parameter changes.
func (p ConsensusParams) RequiredApprovalThreshold(proposalType uint8) float64 {
	switch proposalType {
	case 1: // ProtocolUpgrade
		return 0.75
	case 3: // TreasurySpend
		return 0.65
	default:
		return p.ApprovalThresholdDefault
	}
}

// SetNamed mutates the consensus parameter identified by name, the
// JSON tag form a ParameterChange governance proposal's
// TargetParameter carries, and re-validates the result so an
// approved-but-nonsensical change cannot corrupt consensus. Only
// parameters safe to tune post-genesis are exposed here; structural
// ones (e.g. initial_difficulty_bits) are not.
func (p *ConsensusParams) SetNamed(name string, value uint64) error {
	old := *p
	switch name {
	case "target_block_time":
		p.TargetBlockTime = value
	case "min_block_time":
		p.MinBlockTime = value
	case "max_future_drift":
		p.MaxFutureDrift = value
	case "difficulty_adjustment_window":
		p.DifficultyAdjustWindow = value
	case "max_adjustment_factor":
		p.MaxAdjustmentFactor = value
	case "min_fee_rate":
		p.MinFeeRate = value
	case "min_stake":
		p.MinStake = value
	case "ticket_price":
		p.TicketPrice = value
	case "quorum_size":
		p.QuorumSize = value
	case "masternode_collateral_amount":
		p.MasternodeCollateralAmount = value
	case "max_consecutive_failures":
		p.MaxConsecutiveFailures = value
	case "proposal_stake_amount":
		p.ProposalStakeAmount = value
	case "activation_delay_blocks":
		p.ActivationDelayBlocks = value
	case "max_activation_window":
		p.MaxActivationWindow = value
	case "min_peg_amount":
		p.MinPegAmount = value
	case "max_peg_amount":
		p.MaxPegAmount = value
	case "federation_signatures_needed":
		p.FederationSignaturesNeeded = value
	case "min_challenge_bond":
		p.MinChallengeBond = value
	default:
		return fmt.Errorf("consensus: unknown or non-tunable parameter %q", name)
	}
	if err := p.Validate(); err != nil {
		*p = old
		return err
	}
	return nil
}

// Validate bounds-checks every consensus parameter. Called once at
// genesis load and whenever a ParameterChange proposal activates a new
// value, so that an approved-but-nonsensical change cannot corrupt
// consensus.
func (p *ConsensusParams) Validate() error {
	switch {
	case p.TargetBlockTime == 0:
		return fmt.Errorf("target_block_time must be positive")
	case p.DifficultyAdjustWindow == 0:
		return fmt.Errorf("difficulty_adjustment_window must be positive")
	case p.MaxAdjustmentFactor < 1:
		return fmt.Errorf("max_adjustment_factor must be >= 1")
	case p.InitialBlockReward == 0:
		return fmt.Errorf("initial_block_reward must be positive")
	case p.MinStake == 0:
		return fmt.Errorf("min_stake must be positive")
	case p.TicketPrice < p.MinStake:
		return fmt.Errorf("ticket_price must be >= min_stake")
	case p.MaxTicketAge <= p.MinConfirmations:
		return fmt.Errorf("max_ticket_age must exceed min_confirmations")
	case p.QuorumSize == 0:
		return fmt.Errorf("quorum_size must be positive")
	case p.MasternodeCollateralAmount == 0:
		return fmt.Errorf("masternode_collateral_amount must be positive")
	case p.MaxConsecutiveFailures == 0:
		return fmt.Errorf("max_consecutive_failures must be positive")
	case p.DKGThresholdPercentage == 0 || p.DKGThresholdPercentage > 100:
		return fmt.Errorf("dkg_threshold_percentage must be in (0, 100]")
	case p.MaxConcurrentSignatures == 0:
		return fmt.Errorf("max_concurrent_signatures must be positive")
	case p.MinParticipationThreshold < 0 || p.MinParticipationThreshold > 1:
		return fmt.Errorf("min_participation_threshold must be in [0, 1]")
	case p.ApprovalThresholdDefault <= 0 || p.ApprovalThresholdDefault > 1:
		return fmt.Errorf("approval_threshold_default must be in (0, 1]")
	case p.MinVotingPeriodBlocks == 0 || p.MinVotingPeriodBlocks > p.MaxVotingPeriodBlocks:
		return fmt.Errorf("voting period bounds are invalid")
	case p.MaxSnapshots == 0:
		return fmt.Errorf("max_snapshots must be positive")
	case p.MinPegAmount == 0 || p.MinPegAmount > p.MaxPegAmount:
		return fmt.Errorf("peg amount bounds are invalid")
	case p.MinChallengeBond == 0:
		return fmt.Errorf("min_challenge_bond must be positive")
	}
	return nil
}

// ForkSchedule defines block heights at which protocol upgrades activate.
// A zero value means the fork is not scheduled.
type ForkSchedule struct {
	// Future forks are added here as fields. Example:
	// GovernanceV2Height uint64 `json:"governance_v2_height,omitempty"`
}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork
// (ProtocolUpgrade) or, for bounded parameters, a ParameterChange
// governance proposal.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> balance in base units).
	Alloc map[string]uint64 `json:"alloc"`

	Consensus ConsensusParams `json:"consensus"`
	Forks     ForkSchedule    `json:"forks,omitempty"`
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "rustycoin-mainnet-1",
		ChainName: "Rusty Coin Mainnet",
		Symbol:    "RST",
		Timestamp: 1770734103,
		ExtraData: "Rusty Coin Genesis",
		Alloc:     map[string]uint64{},
		Consensus: DefaultConsensusParams(),
	}
}

// TestnetGenesis returns the testnet genesis configuration, with
// relaxed timing/collateral so integration tests don't wait for
// mainnet-scale maturities.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "rustycoin-testnet-1"
	g.ChainName = "Rusty Coin Testnet"
	g.ExtraData = "Rusty Coin Testnet Genesis"
	g.Symbol = "tRST"

	g.Consensus.CoinbaseMaturity = 4
	g.Consensus.MinConfirmations = 2
	g.Consensus.TicketMaturity = 2
	g.Consensus.MasternodeMaturity = 4
	g.Consensus.MasternodeCollateralAmount = 10 * Coin
	g.Consensus.MinStake = 10 * MilliCoin
	g.Consensus.TicketPrice = 10 * MilliCoin
	g.Consensus.ProposalStakeAmount = 1 * Coin
	g.Consensus.MinVotingPeriodBlocks = 8
	g.Consensus.MaxVotingPeriodBlocks = 1_000
	g.Consensus.ActivationDelayBlocks = 4

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the genesis configuration is internally
// consistent: chain identity present, consensus parameters sane, and
// allocations well-formed and within supply.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if err := g.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus params: %w", err)
	}

	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		if totalAlloc > math.MaxUint64-v {
			return fmt.Errorf("genesis alloc overflow")
		}
		totalAlloc += v
	}
	if g.Consensus.MaxSupply > 0 && totalAlloc > g.Consensus.MaxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)", totalAlloc, g.Consensus.MaxSupply)
	}

	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration, used to
// identify the chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
