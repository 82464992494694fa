package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/rusty-coin/core/internal/consensus"
	"github.com/rusty-coin/core/internal/governance"
	"github.com/rusty-coin/core/internal/log"
	"github.com/rusty-coin/core/internal/masternode"
	"github.com/rusty-coin/core/internal/ticket"
	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/tx"
	"github.com/rusty-coin/core/pkg/types"
)

// Processing errors.
var (
	ErrBlockKnown        = errors.New("chain: block already processed")
	ErrOrphanBlock       = errors.New("chain: parent block not found")
	ErrBadHeight         = errors.New("chain: block height does not follow parent")
	ErrTimestampTooOld   = errors.New("chain: timestamp too close to parent")
	ErrTimestampInFuture = errors.New("chain: timestamp too far in the future")
	ErrBadSubsidy        = errors.New("chain: coinbase pays more than subsidy plus fees")
	ErrBadStateRoot      = errors.New("chain: computed state root does not match header")
)

// ProcessBlock validates and, if valid, applies a block to chain
// state. A block extending the current tip is applied directly; one
// extending a different branch is buffered and triggers a reorg (see
// reorg.go) only once that branch's cumulative work exceeds the tip's.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return fmt.Errorf("chain: nil block")
	}
	hash := blk.Hash()

	if known, _ := c.blocks.HasBlock(hash); known {
		return fmt.Errorf("%w: %s", ErrBlockKnown, hash)
	}

	if err := blk.Validate(); err != nil {
		return fmt.Errorf("structural validation: %w", err)
	}

	parent, err := c.blocks.GetBlock(blk.Header.PrevHash)
	if err != nil {
		if storeErr := c.blocks.StoreBlock(blk); storeErr != nil {
			log.Chain.Warn().Err(storeErr).Str("hash", hash.String()).Msg("failed to buffer orphan block")
		}
		return fmt.Errorf("%w: prev %s", ErrOrphanBlock, blk.Header.PrevHash)
	}

	if blk.Header.Height != parent.Header.Height+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrBadHeight, blk.Header.Height, parent.Header.Height+1)
	}

	if err := c.verifyConsensus(blk, parent.Header); err != nil {
		return fmt.Errorf("consensus validation: %w", err)
	}

	work := blockWork(blk.Header.DifficultyTarget)

	if err := c.blocks.StoreBlock(blk); err != nil {
		return fmt.Errorf("buffer block: %w", err)
	}

	if blk.Header.PrevHash == c.state.TipHash {
		return c.extendTip(blk, work)
	}

	// Block extends a side branch. Only switch to it if doing so makes
	// the active chain heavier (cumulative work wins, not longest chain).
	return c.maybeReorg(blk)
}

// verifyConsensus checks everything about a block that depends on
// chain history but not on mutating state: timestamp bounds, PoW,
// difficulty retarget, and the PoS ticket quorum.
func (c *Chain) verifyConsensus(blk *block.Block, parent *block.Header) error {
	if blk.Header.Timestamp < parent.Timestamp+c.params.MinBlockTime {
		return fmt.Errorf("%w: %d vs parent %d (min gap %d)", ErrTimestampTooOld, blk.Header.Timestamp, parent.Timestamp, c.params.MinBlockTime)
	}
	if c.state.TipTimestamp > 0 && blk.Header.Timestamp > c.state.TipTimestamp+c.params.MaxFutureDrift {
		return ErrTimestampInFuture
	}

	if err := c.pow.VerifyHeader(blk.Header); err != nil {
		return fmt.Errorf("pow: %w", err)
	}
	if err := c.pow.VerifyDifficulty(blk.Header, parent.DifficultyTarget, c.getBlockTimestamp); err != nil {
		return fmt.Errorf("difficulty: %w", err)
	}

	if err := c.verifyQuorum(blk); err != nil {
		return fmt.Errorf("quorum: %w", err)
	}

	return nil
}

// verifyQuorum reconstructs the PoS ticket quorum eligible as of the
// parent height and checks the block's ticket votes validate against
// it (§4.4). The committed ticket hash is derived from the block's own
// vote set rather than read from a dedicated header field, since
// pkg/block.Header carries none.
func (c *Chain) verifyQuorum(blk *block.Block) error {
	if c.params.QuorumSize == 0 {
		return nil
	}
	eligible := c.tickets.EligibleAt(blk.Header.Height-1, c.params.MinConfirmations, c.params.MaxTicketAge, c.params.MinStake)
	committed := committedTicketHash(blk.TicketVotes)
	return ticket.ValidateQuorum(eligible, blk.TicketVotes, blk.Header.PrevHash, blk.Hash(), c.params.QuorumSize, committed)
}

func committedTicketHash(votes []*block.TicketVote) types.Hash {
	hashes := make([]types.Hash, 0, len(votes))
	for _, v := range votes {
		hashes = append(hashes, v.TicketHash)
	}
	sortHashesAsc(hashes)
	return block.TicketHashesDigest(hashes)
}

func sortHashesAsc(hs []types.Hash) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0; j-- {
			if lessHashVal(hs[j], hs[j-1]) {
				hs[j], hs[j-1] = hs[j-1], hs[j]
			} else {
				break
			}
		}
	}
}

func lessHashVal(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// maxWorkNumerator is 2^256, the numerator used to turn a compact
// target into a work value: smaller targets (harder blocks) yield
// larger work, the same relationship Header.DifficultyTarget encodes.
var maxWorkNumerator = new(big.Int).Lsh(big.NewInt(1), 256)

// blockWork estimates the work represented by a header meeting the
// given compact target, clamped to fit State's uint64 cumulative
// difficulty accumulator. consensus.PoW exposes no such helper
// directly, so this mirrors its ExpandCompact decoding.
func blockWork(bits uint32) uint64 {
	t := consensus.ExpandCompact(bits)
	if t.Sign() <= 0 {
		return 1
	}
	work := new(big.Int).Div(maxWorkNumerator, t)
	if work.IsUint64() {
		return work.Uint64()
	}
	return ^uint64(0)
}

// extendTip applies blk directly onto the current tip.
func (c *Chain) extendTip(blk *block.Block, work uint64) error {
	height := blk.Header.Height
	fees, err := c.validateTransactionsAgainstState(blk, height)
	if err != nil {
		return fmt.Errorf("tx validation: %w", err)
	}

	subsidy := c.blockSubsidy(height)
	coinbaseOut, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return fmt.Errorf("coinbase output total: %w", err)
	}
	if coinbaseOut > subsidy+fees {
		return fmt.Errorf("%w: pays %d, max %d (%d subsidy + %d fees)", ErrBadSubsidy, coinbaseOut, subsidy+fees, subsidy, fees)
	}

	if err := c.utxos.Apply(blk, height); err != nil {
		return fmt.Errorf("apply utxos: %w", err)
	}
	if err := c.indexUTXOsInTrie(blk, height); err != nil {
		return fmt.Errorf("index state trie: %w", err)
	}
	if c.trie.Root != blk.Header.StateRoot {
		return fmt.Errorf("%w: computed %s, header %s", ErrBadStateRoot, c.trie.Root, blk.Header.StateRoot)
	}

	c.applySideEffects(blk, height)

	newSupply := c.state.Supply + coinbaseOut
	newCumDiff := c.state.CumulativeDifficulty + work
	hash := blk.Hash()
	if err := c.blocks.SetTip(hash, height, newSupply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeDifficulty(newCumDiff); err != nil {
		return fmt.Errorf("set cumulative difficulty: %w", err)
	}
	if err := c.persistTrieRoot(); err != nil {
		return fmt.Errorf("persist state root: %w", err)
	}

	c.state.TipHash = hash
	c.state.Height = height
	c.state.Supply = newSupply
	c.state.CumulativeDifficulty = newCumDiff
	c.state.TipTimestamp = blk.Header.Timestamp

	if c.snapshots != nil && c.shouldCreateSnapshot(height) {
		if _, err := c.snapshots.Create(height, hash, c.trie.Root, c.utxos, c.tickets, c.masternodes, c.proposals); err != nil {
			log.Chain.Error().Err(err).Uint64("height", height).Msg("failed to create state snapshot")
		} else {
			log.Chain.Info().Uint64("height", height).Msg("state snapshot created")
		}
	}

	log.Chain.Info().Uint64("height", height).Str("hash", hash.String()).Int("txs", len(blk.Transactions)).Msg("block applied")
	return nil
}

// shouldCreateSnapshot reports whether height falls on the configured
// snapshot cadence (§4.10 step 7). Height 0 (genesis) is never
// reconsidered here: InitFromGenesis does not call this.
func (c *Chain) shouldCreateSnapshot(height uint64) bool {
	return c.params.SnapshotInterval > 0 && height%c.params.SnapshotInterval == 0
}

// validateTransactionsAgainstState validates every non-coinbase
// transaction against the live UTXO set and type-specific domain
// rules, returning the total fee. It does not mutate state; callers
// apply the block only once every transaction in it has validated.
func (c *Chain) validateTransactionsAgainstState(blk *block.Block, height uint64) (uint64, error) {
	var totalFee uint64
	for i, t := range blk.Transactions {
		if t.IsCoinbase() {
			continue
		}
		fee, err := t.ValidateWithUTXOs(c.utxos)
		if err != nil {
			return 0, fmt.Errorf("tx %d (%s): %w", i, t.TxID(), err)
		}
		if err := c.validateDomainPayload(t, height); err != nil {
			return 0, fmt.Errorf("tx %d (%s): %w", i, t.TxID(), err)
		}
		totalFee += fee
	}
	return totalFee, nil
}

// validateDomainPayload checks the kind-specific rules that sit above
// plain UTXO spending: ticket purchase/redemption bookkeeping,
// masternode registration/slashing, and governance proposal/vote/
// activation signatures. It runs before Apply so a bad transaction
// never partially mutates state.
func (c *Chain) validateDomainPayload(t *tx.Transaction, height uint64) error {
	switch t.Kind {
	case tx.KindTicketPurchase:
		p := t.TicketPurchase
		if !ticket.VerifyPurchaseSignature(p.TicketID, p.LockedAmount, p.TicketAddress, p.StakerPubKey, p.Signature) {
			return fmt.Errorf("ticket purchase: invalid staker signature")
		}
		if _, exists := c.tickets.Get(p.TicketID); exists {
			return fmt.Errorf("ticket purchase: %s already exists", p.TicketID)
		}
		if p.LockedAmount < c.params.MinStake {
			return fmt.Errorf("ticket purchase: locked amount %d below min stake %d", p.LockedAmount, c.params.MinStake)
		}

	case tx.KindTicketRedemption:
		tk, ok := c.tickets.Get(t.TicketRedemption.TicketID)
		if !ok {
			return fmt.Errorf("ticket redemption: unknown ticket %s", t.TicketRedemption.TicketID)
		}
		if tk.Status != ticket.StatusVoted && tk.Status != ticket.StatusExpired {
			return fmt.Errorf("ticket redemption: ticket %s is %s, not redeemable", tk.Hash, tk.Status)
		}

	case tx.KindMasternodeRegister:
		id, ok := registerIdentity(t)
		if !ok {
			return fmt.Errorf("masternode register: missing collateral input")
		}
		if _, exists := c.masternodes.Get(id); exists {
			return fmt.Errorf("masternode register: %s already registered", id)
		}
		if !masternode.VerifyRegistration(id, t.MasternodeRegister, t.Inputs[0].PubKey) {
			return fmt.Errorf("masternode register: invalid signature")
		}

	case tx.KindMasternodeCollateral:
		if t.MasternodeCollateral.CollateralAmount < c.params.MasternodeCollateralAmount {
			return fmt.Errorf("masternode collateral: %d below required %d", t.MasternodeCollateral.CollateralAmount, c.params.MasternodeCollateralAmount)
		}

	case tx.KindMasternodeSlash:
		if _, exists := c.masternodes.Get(t.MasternodeSlash.MasternodeID); !exists {
			return fmt.Errorf("masternode slash: unknown masternode %s", t.MasternodeSlash.MasternodeID)
		}

	case tx.KindGovernanceProposal:
		if len(t.Inputs) == 0 {
			return fmt.Errorf("governance proposal: missing proposer input")
		}
		p := t.GovernanceProposal
		if !governance.VerifyProposalSignature(p, t.Inputs[0].PubKey) {
			return fmt.Errorf("governance proposal: invalid signature")
		}
		if err := governance.ValidateRequiredFields(p); err != nil {
			return fmt.Errorf("governance proposal: %w", err)
		}
		staked, err := t.TotalOutputValue()
		if err != nil {
			return fmt.Errorf("governance proposal: %w", err)
		}
		if staked < c.params.ProposalStakeAmount {
			return fmt.Errorf("governance proposal: %w", governance.ErrInsufficientCollateral)
		}
		if err := c.proposals.CheckConflicts(p); err != nil {
			return fmt.Errorf("governance proposal: %w", err)
		}

	case tx.KindGovernanceVote:
		pubKey, err := c.resolveVoterPubKey(t.GovernanceVote)
		if err != nil {
			return fmt.Errorf("governance vote: %w", err)
		}
		if !governance.VerifyVoteSignature(t.GovernanceVote, pubKey) {
			return fmt.Errorf("governance vote: invalid signature")
		}

	case tx.KindActivateProposal:
		if len(t.Inputs) == 0 {
			return fmt.Errorf("activate proposal: missing activator input")
		}
		p, ok := c.proposals.Get(t.ActivateProposal.ProposalID)
		if !ok {
			return fmt.Errorf("activate proposal: unknown proposal %s", t.ActivateProposal.ProposalID)
		}
		if p.Status != governance.StatusApproved {
			return fmt.Errorf("activate proposal: %s is %s, not approved", p.ID, p.Status)
		}
		threshold := c.params.RequiredApprovalThreshold(uint8(p.Type))
		if !governance.VerifyActivationSignature(t.ActivateProposal, t.Inputs[0].PubKey, p.YesWeight, p.NoWeight, threshold) {
			return fmt.Errorf("activate proposal: invalid activator signature or approval proof")
		}
	}
	return nil
}

// registerIdentity derives a masternode's registry ID from its first
// spent input, mirroring how §4.5 identifies a masternode by its
// registration collateral outpoint.
func registerIdentity(t *tx.Transaction) (types.OutPoint, bool) {
	if len(t.Inputs) == 0 {
		return types.OutPoint{}, false
	}
	return t.Inputs[0].PrevOut, true
}

// resolveVoterPubKey looks up the public key a governance vote's
// signature must verify under: a ticket's staker key for
// VoterPoSTicket, a masternode's operator key for VoterMasternode.
func (c *Chain) resolveVoterPubKey(v *tx.GovernanceVotePayload) ([]byte, error) {
	switch v.VoterType {
	case tx.VoterPoSTicket:
		tk, ok := c.tickets.Get(v.VoterID)
		if !ok {
			return nil, fmt.Errorf("unknown ticket voter %s", v.VoterID)
		}
		return tk.StakerPubKey, nil
	case tx.VoterMasternode:
		entry, ok := c.masternodeByVoterHash(v.VoterID)
		if !ok {
			return nil, fmt.Errorf("unknown masternode voter %s", v.VoterID)
		}
		return entry.OperatorPubKey, nil
	default:
		return nil, fmt.Errorf("unrecognized voter type %d", v.VoterType)
	}
}

// masternodeByVoterHash scans active masternodes for one whose
// registry ID hashes to voterID. A governance vote identifies a
// masternode voter by a types.Hash (VoterID), shared with the PoS
// ticket voter case, rather than by its OutPoint directly; the hash is
// BLAKE3 over the OutPoint's txid followed by its little-endian vout.
func (c *Chain) masternodeByVoterHash(voterID types.Hash) (*masternode.Entry, bool) {
	for _, e := range c.masternodes.Active() {
		if masternodeVoterHash(e.ID) == voterID {
			return e, true
		}
	}
	return nil, false
}

func masternodeVoterHash(id types.OutPoint) types.Hash {
	buf := make([]byte, 0, types.HashSize+4)
	buf = append(buf, id.TxID[:]...)
	for i := 0; i < 4; i++ {
		buf = append(buf, byte(id.Vout>>(8*i)))
	}
	return crypto.Hash(buf)
}

// applySideEffects updates the ticket pool, masternode registry, and
// governance registry for every non-UTXO effect a block's transactions
// produce. Called only after every transaction in the block has
// already validated, so these mutations cannot partially apply.
func (c *Chain) applySideEffects(blk *block.Block, height uint64) {
	for _, v := range blk.TicketVotes {
		if err := c.tickets.SetStatus(v.TicketHash, ticket.StatusVoted); err != nil {
			log.Chain.Warn().Err(err).Str("ticket", v.TicketHash.String()).Msg("failed to mark ticket voted")
		}
	}

	for _, t := range blk.Transactions {
		switch t.Kind {
		case tx.KindTicketPurchase:
			p := t.TicketPurchase
			if err := c.tickets.Purchase(&ticket.Ticket{
				Hash:           p.TicketID,
				Stake:          p.LockedAmount,
				Address:        p.TicketAddress,
				StakerPubKey:   p.StakerPubKey,
				PurchaseHeight: height,
				Status:         ticket.StatusImmature,
			}); err != nil {
				log.Chain.Warn().Err(err).Msg("ticket purchase apply failed")
			}
		case tx.KindTicketRedemption:
			c.tickets.Remove(t.TicketRedemption.TicketID)
		case tx.KindMasternodeRegister:
			id, _ := registerIdentity(t)
			if _, err := masternode.Register(c.masternodes, id, t.MasternodeRegister, t.Inputs[0].PubKey, height); err != nil {
				log.Chain.Warn().Err(err).Msg("masternode register apply failed")
			}
		case tx.KindMasternodeSlash:
			if err := c.masternodes.ApplySlash(t.MasternodeSlash); err != nil {
				log.Chain.Warn().Err(err).Msg("masternode slash apply failed")
			}
		case tx.KindGovernanceProposal:
			p := t.GovernanceProposal
			staked, err := t.TotalOutputValue()
			if err != nil {
				log.Chain.Warn().Err(err).Msg("governance proposal output total failed")
				continue
			}
			if _, err := c.proposals.Submit(p, t.Inputs[0].PubKey, staked, height, c.params); err != nil {
				log.Chain.Warn().Err(err).Msg("governance proposal apply failed")
			}
		case tx.KindGovernanceVote:
			v := t.GovernanceVote
			weight := c.voteWeight(v)
			pubKey, err := c.resolveVoterPubKey(v)
			if err != nil {
				log.Chain.Warn().Err(err).Msg("governance vote voter lookup failed")
				continue
			}
			if err := c.proposals.CastVote(v, pubKey, weight, height); err != nil {
				log.Chain.Warn().Err(err).Msg("governance vote apply failed")
			}
		case tx.KindActivateProposal:
			activated, err := c.proposals.Activate(t.ActivateProposal, t.Inputs[0].PubKey, height, c.params)
			if err != nil {
				log.Chain.Warn().Err(err).Msg("proposal activation failed")
				continue
			}
			if err := c.applyActivationEffect(activated, height); err != nil {
				log.Chain.Warn().Err(err).Str("proposal", activated.ID.String()).Msg("proposal activation effect failed")
			}
		}
	}

	c.masternodes.AdvanceMaturity(height, c.params.MasternodeMaturity)

	for _, p := range c.proposals.EndingAt(height) {
		if _, err := c.proposals.Tally(p.ID, c.totalGovernanceWeight(p.Type), c.params); err != nil {
			log.Chain.Warn().Err(err).Str("proposal", p.ID.String()).Msg("proposal tally failed")
		}
	}
	c.proposals.ExpireStale(height)
}

// applyActivationEffect carries out the concrete change an activated
// proposal authorizes (§4.8): a ParameterChange mutates the named
// consensus parameter in place, a ProtocolUpgrade is marked active at
// the activation height, and a TreasurySpend is recorded as a pending
// disbursement authorization. TreasurySpend and ProtocolUpgrade
// proposals reuse the generic TargetParameter/NewValue fields (the
// destination address and amount, and nothing respectively) rather
// than carrying dedicated wire fields of their own.
func (c *Chain) applyActivationEffect(p *governance.Proposal, height uint64) error {
	switch p.Type {
	case tx.ProposalParameterChange:
		if err := c.params.SetNamed(p.TargetParameter, p.NewValue); err != nil {
			return fmt.Errorf("apply parameter change: %w", err)
		}
		log.Chain.Info().Str("parameter", p.TargetParameter).Uint64("value", p.NewValue).Msg("governance parameter change activated")

	case tx.ProposalProtocolUpgrade:
		c.activeUpgrades[p.ID] = height
		log.Chain.Info().Str("proposal", p.ID.String()).Uint64("height", height).Msg("protocol upgrade activated")

	case tx.ProposalTreasurySpend:
		recipient, err := types.ParseAddress(p.TargetParameter)
		if err != nil {
			return fmt.Errorf("treasury spend: invalid recipient %q: %w", p.TargetParameter, err)
		}
		c.pendingTreasurySpends = append(c.pendingTreasurySpends, TreasurySpend{
			ProposalID: p.ID,
			Recipient:  recipient,
			Amount:     p.NewValue,
			Height:     height,
		})
		log.Chain.Info().Str("proposal", p.ID.String()).Str("recipient", recipient.String()).Uint64("amount", p.NewValue).Msg("treasury spend authorized")
	}
	return nil
}

// voteWeight returns a governance vote's weight: a ticket's locked
// stake for VoterPoSTicket, one fixed unit per active masternode for
// VoterMasternode (§4.9: one masternode, one vote, versus PoS tickets'
// stake-weighted voting).
func (c *Chain) voteWeight(v *tx.GovernanceVotePayload) uint64 {
	switch v.VoterType {
	case tx.VoterPoSTicket:
		if tk, ok := c.tickets.Get(v.VoterID); ok {
			return tk.Stake
		}
		return 0
	case tx.VoterMasternode:
		return 1
	default:
		return 0
	}
}

// totalGovernanceWeight sums the voting weight eligible to participate
// in a proposal's tally: total live ticket stake plus one unit per
// active masternode.
func (c *Chain) totalGovernanceWeight(_ tx.ProposalType) uint64 {
	var total uint64
	for _, t := range c.tickets.EligibleAt(c.state.Height, 0, c.params.MaxTicketAge, 0) {
		total += t.Stake
	}
	total += uint64(len(c.masternodes.Active()))
	return total
}
