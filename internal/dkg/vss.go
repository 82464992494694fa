package dkg

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/rusty-coin/core/pkg/crypto"
)

// groupOrder is the order r of the BLS12-381 G1/G2 prime-order
// subgroup. All VSS polynomial arithmetic is done mod r.
var groupOrder, _ = new(big.Int).SetString(
	"52435875175126190479447740508185965837690552500527637822603658699938581184513", 10)

// scalarToBytes encodes x (already reduced mod groupOrder) as the
// 32-byte big-endian form expected by blst's SecretKey and Scalar
// Deserialize.
func scalarToBytes(x *big.Int) []byte {
	b := make([]byte, 32)
	new(big.Int).Mod(x, groupOrder).FillBytes(b)
	return b
}

func bytesToScalar(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// randomScalar draws a uniform element of Z_r.
func randomScalar() (*big.Int, error) {
	return rand.Int(rand.Reader, groupOrder)
}

// GeneratePolynomial samples a degree-(threshold-1) polynomial over
// Z_r whose constant term is secret, for Feldman/Pedersen VSS.
func GeneratePolynomial(threshold int, secret *big.Int) ([]*big.Int, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("dkg: threshold must be >= 1, got %d", threshold)
	}
	coeffs := make([]*big.Int, threshold)
	coeffs[0] = new(big.Int).Mod(secret, groupOrder)
	for i := 1; i < threshold; i++ {
		c, err := randomScalar()
		if err != nil {
			return nil, fmt.Errorf("dkg: sample coefficient: %w", err)
		}
		coeffs[i] = c
	}
	return coeffs, nil
}

// EvaluatePolynomial computes f(x) mod r via Horner's method.
func EvaluatePolynomial(coeffs []*big.Int, x int64) *big.Int {
	xb := big.NewInt(x)
	acc := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(acc, xb)
		acc.Add(acc, coeffs[i])
		acc.Mod(acc, groupOrder)
	}
	return acc
}

// CommitPolynomial derives the Feldman commitment to each coefficient:
// the BLS public key (G1 point) for that coefficient treated as a
// secret scalar. Broadcast to all participants as DKGCommitment.
func CommitPolynomial(coeffs []*big.Int) ([]*crypto.BLSPublicKey, error) {
	out := make([]*crypto.BLSPublicKey, len(coeffs))
	for i, c := range coeffs {
		sk, err := crypto.BLSSecretKeyFromScalar(scalarToBytes(c))
		if err != nil {
			return nil, fmt.Errorf("dkg: commit coefficient %d: %w", i, err)
		}
		out[i] = sk.PublicKey()
	}
	return out, nil
}

// ErrShareInconsistent is returned when a received secret share does
// not match the sender's published commitments, grounds for a
// DKGComplaint (§4.6 phase 4).
var ErrShareInconsistent = errors.New("dkg: share inconsistent with published commitments")

// VerifyShare checks that share = f(x) by recomputing
// g^f(x) = Π commitments[k]^(x^k) and comparing to the share's public
// key. x is the recipient's participant index (1-based; index 0 is
// reserved and never assigned, matching Shamir's threshold scheme
// convention of excluding the secret's own point).
func VerifyShare(share *big.Int, x int64, commitments []*crypto.BLSPublicKey) error {
	if len(commitments) == 0 {
		return fmt.Errorf("dkg: no commitments to verify against")
	}
	expected := commitments[0]
	xPow := big.NewInt(1)
	xb := big.NewInt(x)
	for k := 1; k < len(commitments); k++ {
		xPow = new(big.Int).Mod(new(big.Int).Mul(xPow, xb), groupOrder)
		term, err := scaledPoint(commitments[k], xPow)
		if err != nil {
			return fmt.Errorf("dkg: scale commitment %d: %w", k, err)
		}
		expected = expected.Add(term)
	}

	sk, err := crypto.BLSSecretKeyFromScalar(scalarToBytes(share))
	if err != nil {
		return fmt.Errorf("dkg: invalid share scalar: %w", err)
	}
	if !bytes.Equal(sk.PublicKey().Bytes(), expected.Bytes()) {
		return ErrShareInconsistent
	}
	return nil
}

// scaledPoint multiplies a BLS public key (G1 point) by a scalar.
// crypto.BLSPublicKey exposes no direct scalar-mult, so the product is
// built by double-and-add over the wrapper's Add, walking the scalar's
// bits from least significant.
func scaledPoint(p *crypto.BLSPublicKey, scalar *big.Int) (*crypto.BLSPublicKey, error) {
	if scalar.Sign() == 0 {
		zeroSK, err := crypto.BLSSecretKeyFromScalar(scalarToBytes(big.NewInt(0)))
		if err != nil {
			return nil, err
		}
		return zeroSK.PublicKey(), nil
	}
	result := (*crypto.BLSPublicKey)(nil)
	addend := p
	n := new(big.Int).Set(scalar)
	for n.Sign() > 0 {
		if n.Bit(0) == 1 {
			if result == nil {
				result = addend
			} else {
				result = result.Add(addend)
			}
		}
		addend = addend.Add(addend)
		n.Rsh(n, 1)
	}
	return result, nil
}

// LagrangeCoefficient computes λ_i(0), the Lagrange basis coefficient
// for participant index i evaluated at x=0, over the set of indices
// in xs, mod the group order. Used to recombine threshold shares and
// to recombine per-participant signature shares (§4.6).
func LagrangeCoefficient(xs []int64, i int64) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, j := range xs {
		if j == i {
			continue
		}
		// num *= (0 - j) = -j
		num.Mul(num, big.NewInt(-j))
		num.Mod(num, groupOrder)
		// den *= (i - j)
		den.Mul(den, big.NewInt(i-j))
		den.Mod(den, groupOrder)
	}
	denInv := new(big.Int).ModInverse(den, groupOrder)
	if denInv == nil {
		// Degenerate (duplicate indices): no valid coefficient.
		return big.NewInt(0)
	}
	return new(big.Int).Mod(new(big.Int).Mul(num, denInv), groupOrder)
}

// LagrangeCoefficientBytes is LagrangeCoefficient encoded as the
// 32-byte scalar crypto.BLSSignature.ScalarMultiply expects.
func LagrangeCoefficientBytes(xs []int64, i int64) []byte {
	return scalarToBytes(LagrangeCoefficient(xs, i))
}
