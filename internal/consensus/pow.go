package consensus

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/rusty-coin/core/pkg/block"
	"github.com/rusty-coin/core/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork  = errors.New("hash does not meet difficulty target")
	ErrZeroDifficulty    = errors.New("difficulty_target must be > 0")
	ErrBadDifficultyBits = errors.New("block difficulty_target does not match expected")
)

// maxUint256 is 2^256 - 1.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PoW implements proof-of-work consensus against the header's compact
// difficulty_target (§4.3): a 32-bit (exponent, mantissa) pair decoded
// into a 256-bit target via ExpandCompact, with acceptance tested
// against OxideHash rather than the plain identity hash — mining cost
// is dominated by OxideHash's 64 MiB working set, not hash throughput.
type PoW struct {
	InitialDifficultyBits uint32 // Compact bits at genesis / first window
	MinDifficultyBits     uint32 // Compact bits of the easiest allowed target
	AdjustWindow          uint64 // Blocks between retargets (0 = never)
	TargetBlockTime       uint64 // Target seconds between blocks
	ClampFactor           uint64 // Max per-retarget multiplicative change (K)

	// DifficultyFn, if set, supplies the difficulty_target Prepare
	// writes for the given height; when nil, Prepare writes
	// InitialDifficultyBits. ExpectedDifficultyBits and VerifyDifficulty
	// do not consult it. Most callers leave this nil.
	DifficultyFn func(height uint64) uint32

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded. Each goroutine searches a strided
	// partition of the nonce space.
	Threads int
}

// NewPoW creates a new PoW engine.
func NewPoW(initialBits, minDifficultyBits uint32, adjustWindow, targetBlockTime, clampFactor uint64) (*PoW, error) {
	if initialBits == 0 {
		return nil, ErrZeroDifficulty
	}
	return &PoW{
		InitialDifficultyBits: initialBits,
		MinDifficultyBits:     minDifficultyBits,
		AdjustWindow:          adjustWindow,
		TargetBlockTime:       targetBlockTime,
		ClampFactor:           clampFactor,
	}, nil
}

// ShouldAdjust returns true if difficulty should be recalculated at
// this height. Genesis (height 0) never adjusts.
func (p *PoW) ShouldAdjust(height uint64) bool {
	return ShouldRetarget(height, p.AdjustWindow)
}

// ShouldRetarget reports whether height is a retarget boundary for the
// given window. Height 0 (genesis) never retargets.
func ShouldRetarget(height, window uint64) bool {
	if window == 0 || height == 0 {
		return false
	}
	return height%window == 0
}

// ExpandCompact converts a 32-bit compact difficulty ("bits": 1 byte
// exponent, 3 byte mantissa) into a 256-bit target, per §4.3:
// target = mantissa << 8*(exponent-3) when exponent >= 3, else
// mantissa >> 8*(3-exponent).
func ExpandCompact(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x00ffffff)

	t := big.NewInt(mantissa)
	shift := 8 * (exponent - 3)
	if shift >= 0 {
		t.Lsh(t, uint(shift))
	} else {
		t.Rsh(t, uint(-shift))
	}
	if t.Sign() < 0 || t.Cmp(maxUint256) > 0 {
		return new(big.Int).Set(maxUint256)
	}
	return t
}

// CompactFromTarget converts a 256-bit target back into compact form.
// If the 3-byte mantissa's high bit would be set (making it readable
// as a sign bit), the mantissa is shifted right one byte and the
// exponent incremented, per §4.3.
func CompactFromTarget(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	t := new(big.Int).Set(target)
	if t.Cmp(maxUint256) > 0 {
		t.Set(maxUint256)
	}

	raw := t.Bytes() // big-endian, no leading zero byte
	exponent := len(raw)
	if exponent == 0 {
		return 0
	}

	var padded [3]byte
	if exponent <= 3 {
		copy(padded[3-exponent:], raw)
	} else {
		copy(padded[:], raw[:3])
	}
	mantissa := uint32(padded[0])<<16 | uint32(padded[1])<<8 | uint32(padded[2])

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	return uint32(exponent)<<24 | (mantissa & 0x00ffffff)
}

// target returns the 256-bit target a header's compact difficulty_target
// expands to.
func target(bits uint32) *big.Int {
	return ExpandCompact(bits)
}

// VerifyHeader checks that the block header's nonce satisfies
// OxideHash(header) <= target, where target is decoded from
// header.DifficultyTarget.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header.DifficultyTarget == 0 {
		return ErrZeroDifficulty
	}
	t := target(header.DifficultyTarget)
	digest := crypto.OxideHash(header.SigningPrefix(), header.Nonce)
	hashInt := new(big.Int).SetBytes(digest[:])
	if hashInt.Cmp(t) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets the block header's difficulty_target for mining. If
// DifficultyFn is set, it computes the expected bits from chain state;
// otherwise it uses InitialDifficultyBits.
func (p *PoW) Prepare(header *block.Header) error {
	if p.DifficultyFn != nil {
		header.DifficultyTarget = p.DifficultyFn(header.Height)
	} else {
		header.DifficultyTarget = p.InitialDifficultyBits
	}
	return nil
}

// Seal mines the block by iterating the nonce until OxideHash(header)
// meets the target already set in the header. Uses the
// difficulty_target already set in the block header.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support. When the
// context is cancelled, mining stops and ctx.Err() is returned. If
// Threads > 1, mining runs in parallel goroutines with strided nonce
// partitioning.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.DifficultyTarget == 0 {
		return ErrZeroDifficulty
	}

	threads := p.Threads
	if threads <= 1 {
		return p.sealSingle(ctx, blk)
	}
	return p.sealParallel(ctx, blk, threads)
}

// sealSingle mines with a single goroutine.
func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	t := target(blk.Header.DifficultyTarget)
	prefix := blk.Header.SigningPrefix()
	hashInt := new(big.Int)

	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		digest := crypto.OxideHash(prefix, nonce)
		hashInt.SetBytes(digest[:])
		if hashInt.Cmp(t) <= 0 {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

// sealParallel mines with multiple goroutines, each searching a
// strided partition of the nonce space (goroutine i starts at
// nonce=i, step=threads).
func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	t := target(blk.Header.DifficultyTarget)
	prefix := blk.Header.SigningPrefix()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				digest := crypto.OxideHash(prefix, nonce)
				hashInt.SetBytes(digest[:])
				if hashInt.Cmp(t) <= 0 {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint64(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CalcNextTarget implements the retarget in §4.3/§8: new_target =
// prevTarget * actual / expected, clamped so actual is never treated
// as more than clampFactor times faster or slower than expected, and
// never eased past minTarget (the easiest allowed target).
func CalcNextTarget(prevTarget *big.Int, actualSpan, expectedSpan, clampFactor uint64, minTarget *big.Int) *big.Int {
	if actualSpan == 0 {
		actualSpan = 1
	}
	if expectedSpan == 0 {
		expectedSpan = 1
	}
	if clampFactor == 0 {
		clampFactor = 1
	}

	minSpan := expectedSpan / clampFactor
	if minSpan == 0 {
		minSpan = 1
	}
	maxSpan := expectedSpan * clampFactor

	clamped := actualSpan
	if clamped < minSpan {
		clamped = minSpan
	}
	if clamped > maxSpan {
		clamped = maxSpan
	}

	next := new(big.Int).Mul(prevTarget, new(big.Int).SetUint64(clamped))
	next.Div(next, new(big.Int).SetUint64(expectedSpan))

	if next.Sign() < 1 {
		next = big.NewInt(1)
	}
	if next.Cmp(maxUint256) > 0 {
		next.Set(maxUint256)
	}
	if minTarget != nil && next.Cmp(minTarget) > 0 {
		next = new(big.Int).Set(minTarget)
	}
	return next
}

// ExpectedDifficultyBits computes the correct difficulty_target for a
// block at the given height. prevBits is the difficulty_target from
// the block at height-1 (0 for height <= 1). getTimestamp retrieves a
// block's timestamp by height; it is only called at a retarget
// boundary.
func (p *PoW) ExpectedDifficultyBits(height uint64, prevBits uint32, getTimestamp func(uint64) (uint64, error)) uint32 {
	if height <= 1 || prevBits == 0 {
		return p.InitialDifficultyBits
	}
	if !p.ShouldAdjust(height) {
		return prevBits
	}

	startTS, err := getTimestamp(height - p.AdjustWindow)
	if err != nil {
		return prevBits
	}
	endTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevBits
	}

	var actual uint64
	if endTS > startTS {
		actual = endTS - startTS
	}
	expected := p.AdjustWindow * p.TargetBlockTime

	prevTarget := target(prevBits)
	minTarget := target(p.MinDifficultyBits)
	nextTarget := CalcNextTarget(prevTarget, actual, expected, p.ClampFactor, minTarget)
	return CompactFromTarget(nextTarget)
}

// VerifyDifficulty checks that a block header's stated
// difficulty_target matches the expected value computed from chain
// history.
func (p *PoW) VerifyDifficulty(header *block.Header, prevBits uint32, getTimestamp func(uint64) (uint64, error)) error {
	expected := p.ExpectedDifficultyBits(header.Height, prevBits, getTimestamp)
	if header.DifficultyTarget != expected {
		return fmt.Errorf("%w: height %d has %#x, want %#x",
			ErrBadDifficultyBits, header.Height, header.DifficultyTarget, expected)
	}
	return nil
}
