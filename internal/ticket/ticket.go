// Package ticket implements the proof-of-stake ticket engine (C6):
// ticket purchase accounting, the per-block price adjustment, and
// deterministic quorum selection and validation for block voting.
package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rusty-coin/core/internal/storage"
	"github.com/rusty-coin/core/pkg/crypto"
	"github.com/rusty-coin/core/pkg/types"
)

// Status tracks a ticket's position in its lifecycle.
type Status uint8

const (
	StatusImmature Status = iota + 1
	StatusLive
	StatusVoted
	StatusExpired
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusImmature:
		return "Immature"
	case StatusLive:
		return "Live"
	case StatusVoted:
		return "Voted"
	case StatusExpired:
		return "Expired"
	case StatusRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// Ticket is a staked VotingTicket tracked by the pool.
type Ticket struct {
	Hash          types.Hash    `json:"hash"` // == TicketPurchasePayload.TicketID
	Stake         uint64        `json:"stake"`
	Address       types.Address `json:"address"`
	StakerPubKey  []byte        `json:"staker_pubkey"`
	PurchaseHeight uint64       `json:"purchase_height"`
	Status        Status        `json:"status"`
}

// eligible reports whether t may be drawn into a quorum at the given
// height, per §4.4: min_confirmations <= age <= max_ticket_age and
// stake >= min_stake.
func (t *Ticket) eligible(height, minConfirmations, maxTicketAge, minStake uint64) bool {
	if t.Status != StatusLive && t.Status != StatusImmature {
		return false
	}
	if height < t.PurchaseHeight {
		return false
	}
	age := height - t.PurchaseHeight
	if age < minConfirmations || age > maxTicketAge {
		return false
	}
	return t.Stake >= minStake
}

var (
	// ErrTicketExists is returned when purchasing a ticket hash already
	// present in the pool.
	ErrTicketExists = errors.New("ticket: already exists")
	// ErrTicketNotFound is returned when an operation references an
	// unknown ticket hash.
	ErrTicketNotFound = errors.New("ticket: not found")
)

var prefixTicket = []byte("t/") // t/<hash> -> Ticket JSON

func ticketKey(h types.Hash) []byte {
	key := make([]byte, len(prefixTicket)+types.HashSize)
	copy(key, prefixTicket)
	copy(key[len(prefixTicket):], h[:])
	return key
}

// Pool is the in-memory, DB-backed set of tickets, mirroring the
// chain's notion of the active ticket set (§3's `active_tickets`
// store). Reads take the read lock; mutation goes through Purchase/
// SetStatus/Remove so callers never hold a stale pointer across a
// concurrent removal.
type Pool struct {
	mu      sync.RWMutex
	tickets map[types.Hash]*Ticket
}

// NewPool creates an empty ticket pool.
func NewPool() *Pool {
	return &Pool{tickets: make(map[types.Hash]*Ticket)}
}

// LoadPool reconstructs a Pool from persisted storage.
func LoadPool(db storage.DB) (*Pool, error) {
	p := NewPool()
	err := db.ForEach(prefixTicket, func(_, value []byte) error {
		var t Ticket
		if err := json.Unmarshal(value, &t); err != nil {
			return fmt.Errorf("unmarshal ticket: %w", err)
		}
		p.tickets[t.Hash] = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ticket pool: %w", err)
	}
	return p, nil
}

// Purchase admits a newly-bought ticket into the pool.
func (p *Pool) Purchase(t *Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tickets[t.Hash]; exists {
		return fmt.Errorf("%w: %s", ErrTicketExists, t.Hash)
	}
	cp := *t
	p.tickets[t.Hash] = &cp
	return nil
}

// Get returns a copy of the ticket with the given hash.
func (p *Pool) Get(h types.Hash) (*Ticket, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tickets[h]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// SetStatus transitions a ticket to a new status.
func (p *Pool) SetStatus(h types.Hash, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickets[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, h)
	}
	t.Status = status
	return nil
}

// Remove deletes a ticket from the pool (expiry, revocation, or
// redemption after voting).
func (p *Pool) Remove(h types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tickets, h)
}

// Count returns the number of tickets currently tracked, regardless
// of status.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tickets)
}

// ActiveCount returns the number of Live or Immature tickets, the
// `active` term in the price adjustment formula (§4.4).
func (p *Pool) ActiveCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var n uint64
	for _, t := range p.tickets {
		if t.Status == StatusLive || t.Status == StatusImmature {
			n++
		}
	}
	return n
}

// EligibleAt returns every ticket eligible for quorum selection at the
// given height, sorted by hash for a stable walk order (§4.4's "walk
// tickets in a stable order").
func (p *Pool) EligibleAt(height, minConfirmations, maxTicketAge, minStake uint64) []*Ticket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Ticket
	for _, t := range p.tickets {
		if t.eligible(height, minConfirmations, maxTicketAge, minStake) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortByHash(out)
	return out
}

func sortByHash(ts []*Ticket) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0; j-- {
			if lessHash(ts[j].Hash, ts[j-1].Hash) {
				ts[j], ts[j-1] = ts[j-1], ts[j]
			} else {
				break
			}
		}
	}
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// All returns a copy of every ticket currently tracked by the pool,
// for callers that need a full point-in-time capture (e.g. a state
// snapshot) rather than a single lookup.
func (p *Pool) All() []*Ticket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Ticket, 0, len(p.tickets))
	for _, t := range p.tickets {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// SaveTo persists every tracked ticket to db.
func (p *Pool) SaveTo(db storage.DB) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.tickets {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal ticket %s: %w", t.Hash, err)
		}
		if err := db.Put(ticketKey(t.Hash), data); err != nil {
			return fmt.Errorf("save ticket %s: %w", t.Hash, err)
		}
	}
	return nil
}

// DeleteFrom removes a single ticket entry from db.
func DeleteFrom(db storage.DB, h types.Hash) error {
	return db.Delete(ticketKey(h))
}

// SaveRows persists a slice of tickets with the same on-disk layout
// SaveTo uses, for a caller restoring a pool from an external capture
// (e.g. a fast-sync snapshot) rather than from a live Pool.
func SaveRows(db storage.DB, tickets []*Ticket) error {
	for _, t := range tickets {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal ticket %s: %w", t.Hash, err)
		}
		if err := db.Put(ticketKey(t.Hash), data); err != nil {
			return fmt.Errorf("save ticket %s: %w", t.Hash, err)
		}
	}
	return nil
}

// VerifyPurchaseSignature checks the staker signature over a ticket
// purchase's identity fields, per §4.4 ("signature is verified on
// acceptance").
func VerifyPurchaseSignature(ticketID types.Hash, lockedAmount uint64, addr types.Address, pubKey, sig []byte) bool {
	msg := signingMessage(ticketID, lockedAmount, addr)
	return crypto.VerifySignature(msg, sig, pubKey)
}

func signingMessage(ticketID types.Hash, lockedAmount uint64, addr types.Address) []byte {
	buf := make([]byte, 0, types.HashSize+8+types.AddressSize)
	buf = append(buf, ticketID[:]...)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(lockedAmount>>(8*i)))
	}
	buf = append(buf, addr[:]...)
	return buf
}
