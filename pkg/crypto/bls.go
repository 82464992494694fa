package crypto

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

// blsDST is the BLS12-381 domain separation tag for masternode quorum
// threshold signatures (min-pubkey-size variant: G1 public keys, G2
// signatures).
var blsDST = []byte("RUSTYCOIN_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSSecretKey is a scalar share of a threshold private key.
type BLSSecretKey struct {
	sk blst.SecretKey
}

// BLSPublicKey is a point on G1.
type BLSPublicKey struct {
	pk blst.P1Affine
}

// BLSSignature is a point on G2.
type BLSSignature struct {
	sig blst.P2Affine
}

// GenerateBLSKey derives a BLS12-381 secret key from 32 bytes of
// cryptographically random key material (IKM per RFC draft-irtf-cfrg-bls).
func GenerateBLSKey(ikm []byte) (*BLSSecretKey, error) {
	if len(ikm) < 32 {
		return nil, fmt.Errorf("ikm must be at least 32 bytes, got %d", len(ikm))
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, fmt.Errorf("blst key generation failed")
	}
	return &BLSSecretKey{sk: *sk}, nil
}

// BLSSecretKeyFromScalar wraps a raw 32-byte scalar as a secret key,
// used to hold a Feldman/Pedersen VSS share received from a DKG peer.
func BLSSecretKeyFromScalar(b []byte) (*BLSSecretKey, error) {
	sk := new(blst.SecretKey).Deserialize(b)
	if sk == nil {
		return nil, fmt.Errorf("invalid BLS scalar")
	}
	return &BLSSecretKey{sk: *sk}, nil
}

// Bytes returns the 32-byte serialized scalar.
func (k *BLSSecretKey) Bytes() []byte {
	return k.sk.Serialize()
}

// PublicKey derives the G1 public key for this secret key.
func (k *BLSSecretKey) PublicKey() *BLSPublicKey {
	pk := new(blst.P1Affine).From(&k.sk)
	return &BLSPublicKey{pk: *pk}
}

// Sign produces a G2 BLS signature over msg.
func (k *BLSSecretKey) Sign(msg []byte) *BLSSignature {
	sig := new(blst.P2Affine).Sign(&k.sk, msg, blsDST)
	return &BLSSignature{sig: *sig}
}

// Bytes returns the compressed 48-byte public key.
func (p *BLSPublicKey) Bytes() []byte {
	return p.pk.Compress()
}

// BLSPublicKeyFromBytes decompresses a 48-byte G1 public key.
func BLSPublicKeyFromBytes(b []byte) (*BLSPublicKey, error) {
	pk := new(blst.P1Affine).Uncompress(b)
	if pk == nil || !pk.KeyValidate() {
		return nil, fmt.Errorf("invalid BLS public key")
	}
	return &BLSPublicKey{pk: *pk}, nil
}

// Add combines two public keys (used to accumulate Feldman VSS
// commitments into a group public key).
func (p *BLSPublicKey) Add(other *BLSPublicKey) *BLSPublicKey {
	agg := blst.P1AffinesToAggregate([]*blst.P1Affine{&p.pk, &other.pk})
	out := agg.ToAffine()
	return &BLSPublicKey{pk: *out}
}

// Bytes returns the compressed 96-byte signature.
func (s *BLSSignature) Bytes() []byte {
	return s.sig.Compress()
}

// BLSSignatureFromBytes decompresses a 96-byte G2 signature.
func BLSSignatureFromBytes(b []byte) (*BLSSignature, error) {
	sig := new(blst.P2Affine).Uncompress(b)
	if sig == nil {
		return nil, fmt.Errorf("invalid BLS signature")
	}
	return &BLSSignature{sig: *sig}, nil
}

// Verify checks a single BLS signature against a message and public key.
func (s *BLSSignature) Verify(msg []byte, pub *BLSPublicKey) bool {
	return s.sig.Verify(true, &pub.pk, true, msg, blsDST)
}

// AggregateBLSSignatures combines per-share signatures (already scaled
// by their Lagrange coefficients, see internal/dkg) into one group
// signature by point addition on G2.
func AggregateBLSSignatures(sigs []*BLSSignature) (*BLSSignature, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}
	pts := make([]*blst.P2Affine, len(sigs))
	for i, s := range sigs {
		pts[i] = &s.sig
	}
	agg := blst.P2AffinesToAggregate(pts)
	out := agg.ToAffine()
	return &BLSSignature{sig: *out}, nil
}

// ScalarMultiply scales a signature point by a Lagrange coefficient,
// used when combining partial threshold signatures: each participant's
// raw signature share must be multiplied by its interpolation
// coefficient before the shares are summed.
func (s *BLSSignature) ScalarMultiply(coeff []byte) *BLSSignature {
	scalar := new(blst.Scalar).Deserialize(coeff)
	p := new(blst.P2).FromAffine(&s.sig)
	p = p.Mult(scalar)
	out := p.ToAffine()
	return &BLSSignature{sig: *out}
}
