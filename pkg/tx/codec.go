package tx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rusty-coin/core/pkg/types"
)

// Encode produces the canonical wire encoding of the transaction,
// including signatures and witness data (unlike signingBytes, which is
// used only to compute the txid/signing digest).
func (tx *Transaction) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Kind))
	writeU32(&buf, tx.Version)

	if tx.Kind == KindCoinbase {
		writeU64(&buf, tx.CoinbaseHeight)
	} else {
		writeU32(&buf, uint32(len(tx.Inputs)))
		for _, in := range tx.Inputs {
			buf.Write(in.PrevOut.TxID[:])
			writeU32(&buf, in.PrevOut.Vout)
			writeBytes(&buf, in.Signature)
			writeBytes(&buf, in.PubKey)
		}
	}

	writeU32(&buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		writeU64(&buf, out.Value)
		writeBytes(&buf, out.ScriptPubKey)
		writeBytes(&buf, out.Memo)
	}

	writeU64(&buf, tx.LockTime)
	writeU64(&buf, tx.Fee_)

	writeU32(&buf, uint32(len(tx.Witness)))
	for _, w := range tx.Witness {
		writeBytes(&buf, w)
	}

	if err := encodeVariant(&buf, tx); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a canonical wire encoding produced by Encode. An
// unrecognized leading Kind byte is InvalidFormat, per the wire
// contract: unknown discriminants must not be silently accepted.
func Decode(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: read kind: %v", ErrInvalidFormat, err)
	}
	kind := Kind(kindByte)
	if kind < KindStandard || kind > KindActivateProposal {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidFormat, kindByte)
	}

	tx := &Transaction{Kind: kind}

	tx.Version, err = readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrInvalidFormat, err)
	}

	if kind == KindCoinbase {
		tx.CoinbaseHeight, err = readU64(r)
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase height: %v", ErrInvalidFormat, err)
		}
	} else {
		n, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("%w: input count: %v", ErrInvalidFormat, err)
		}
		tx.Inputs = make([]Input, n)
		for i := range tx.Inputs {
			var in Input
			if _, err := readFull(r, in.PrevOut.TxID[:]); err != nil {
				return nil, fmt.Errorf("%w: input txid: %v", ErrInvalidFormat, err)
			}
			if in.PrevOut.Vout, err = readU32(r); err != nil {
				return nil, fmt.Errorf("%w: input vout: %v", ErrInvalidFormat, err)
			}
			if in.Signature, err = readBytes(r); err != nil {
				return nil, fmt.Errorf("%w: input signature: %v", ErrInvalidFormat, err)
			}
			if in.PubKey, err = readBytes(r); err != nil {
				return nil, fmt.Errorf("%w: input pubkey: %v", ErrInvalidFormat, err)
			}
			tx.Inputs[i] = in
		}
	}

	n, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: output count: %v", ErrInvalidFormat, err)
	}
	tx.Outputs = make([]types.TxOutput, n)
	for i := range tx.Outputs {
		var out types.TxOutput
		if out.Value, err = readU64(r); err != nil {
			return nil, fmt.Errorf("%w: output value: %v", ErrInvalidFormat, err)
		}
		sp, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("%w: output script: %v", ErrInvalidFormat, err)
		}
		out.ScriptPubKey = sp
		if out.Memo, err = readBytes(r); err != nil {
			return nil, fmt.Errorf("%w: output memo: %v", ErrInvalidFormat, err)
		}
		tx.Outputs[i] = out
	}

	if tx.LockTime, err = readU64(r); err != nil {
		return nil, fmt.Errorf("%w: locktime: %v", ErrInvalidFormat, err)
	}
	if tx.Fee_, err = readU64(r); err != nil {
		return nil, fmt.Errorf("%w: fee: %v", ErrInvalidFormat, err)
	}

	wn, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: witness count: %v", ErrInvalidFormat, err)
	}
	tx.Witness = make([][]byte, wn)
	for i := range tx.Witness {
		if tx.Witness[i], err = readBytes(r); err != nil {
			return nil, fmt.Errorf("%w: witness: %v", ErrInvalidFormat, err)
		}
	}

	if err := decodeVariant(r, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

func encodeVariant(buf *bytes.Buffer, tx *Transaction) error {
	switch tx.Kind {
	case KindStandard, KindCoinbase:
		return nil
	case KindTicketPurchase:
		p := tx.TicketPurchase
		if p == nil {
			return fmt.Errorf("%w: missing ticket purchase payload", ErrInvalidFormat)
		}
		buf.Write(p.TicketID[:])
		writeU64(buf, p.LockedAmount)
		buf.Write(p.TicketAddress[:])
		writeBytes(buf, p.StakerPubKey)
		writeBytes(buf, p.Signature)
	case KindTicketRedemption:
		p := tx.TicketRedemption
		if p == nil {
			return fmt.Errorf("%w: missing ticket redemption payload", ErrInvalidFormat)
		}
		buf.Write(p.TicketID[:])
	case KindMasternodeRegister:
		p := tx.MasternodeRegister
		if p == nil {
			return fmt.Errorf("%w: missing masternode register payload", ErrInvalidFormat)
		}
		writeBytes(buf, p.OperatorPubKey)
		buf.Write(p.CollateralOwner[:])
		writeBytes(buf, []byte(p.NetworkAddress))
		writeBytes(buf, p.DKGPubKey)
		writeU32(buf, uint32(len(p.SupportedDKGVers)))
		for _, v := range p.SupportedDKGVers {
			writeU32(buf, v)
		}
		writeBytes(buf, p.Signature)
	case KindMasternodeCollateral:
		p := tx.MasternodeCollateral
		if p == nil {
			return fmt.Errorf("%w: missing masternode collateral payload", ErrInvalidFormat)
		}
		writeU64(buf, p.CollateralAmount)
		buf.Write(p.MasternodeIdentity.TxID[:])
		writeU32(buf, p.MasternodeIdentity.Vout)
	case KindMasternodeSlash:
		p := tx.MasternodeSlash
		if p == nil {
			return fmt.Errorf("%w: missing masternode slash payload", ErrInvalidFormat)
		}
		buf.Write(p.MasternodeID.TxID[:])
		writeU32(buf, p.MasternodeID.Vout)
		buf.WriteByte(byte(p.Reason))
		writeBytes(buf, p.Proof)
	case KindGovernanceProposal:
		p := tx.GovernanceProposal
		if p == nil {
			return fmt.Errorf("%w: missing governance proposal payload", ErrInvalidFormat)
		}
		buf.Write(p.ProposalID[:])
		buf.Write(p.ProposerAddress[:])
		buf.WriteByte(byte(p.ProposalType))
		writeU64(buf, p.StartHeight)
		writeU64(buf, p.EndHeight)
		writeBytes(buf, []byte(p.Title))
		buf.Write(p.DescriptionHash[:])
		writeBytes(buf, []byte(p.TargetParameter))
		writeU64(buf, p.NewValue)
		writeBytes(buf, p.ProposerSignature)
	case KindGovernanceVote:
		p := tx.GovernanceVote
		if p == nil {
			return fmt.Errorf("%w: missing governance vote payload", ErrInvalidFormat)
		}
		buf.Write(p.ProposalID[:])
		buf.WriteByte(byte(p.VoterType))
		buf.Write(p.VoterID[:])
		buf.WriteByte(byte(p.Choice))
		writeBytes(buf, p.Signature)
	case KindActivateProposal:
		p := tx.ActivateProposal
		if p == nil {
			return fmt.Errorf("%w: missing activate proposal payload", ErrInvalidFormat)
		}
		buf.Write(p.ProposalID[:])
		writeBytes(buf, p.ApprovalProof)
		writeBytes(buf, p.ActivatorSignature)
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidFormat, tx.Kind)
	}
	return nil
}

func decodeVariant(r *bytes.Reader, tx *Transaction) error {
	switch tx.Kind {
	case KindStandard, KindCoinbase:
		return nil
	case KindTicketPurchase:
		p := &TicketPurchasePayload{}
		if _, err := readFull(r, p.TicketID[:]); err != nil {
			return fmt.Errorf("%w: ticket id: %v", ErrInvalidFormat, err)
		}
		var err error
		if p.LockedAmount, err = readU64(r); err != nil {
			return fmt.Errorf("%w: locked amount: %v", ErrInvalidFormat, err)
		}
		if _, err := readFull(r, p.TicketAddress[:]); err != nil {
			return fmt.Errorf("%w: ticket address: %v", ErrInvalidFormat, err)
		}
		if p.StakerPubKey, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: staker pubkey: %v", ErrInvalidFormat, err)
		}
		if p.Signature, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: signature: %v", ErrInvalidFormat, err)
		}
		tx.TicketPurchase = p
	case KindTicketRedemption:
		p := &TicketRedemptionPayload{}
		if _, err := readFull(r, p.TicketID[:]); err != nil {
			return fmt.Errorf("%w: ticket id: %v", ErrInvalidFormat, err)
		}
		tx.TicketRedemption = p
	case KindMasternodeRegister:
		p := &MasternodeRegisterPayload{}
		var err error
		if p.OperatorPubKey, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: operator pubkey: %v", ErrInvalidFormat, err)
		}
		if _, err := readFull(r, p.CollateralOwner[:]); err != nil {
			return fmt.Errorf("%w: collateral owner: %v", ErrInvalidFormat, err)
		}
		na, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("%w: network address: %v", ErrInvalidFormat, err)
		}
		p.NetworkAddress = string(na)
		if p.DKGPubKey, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: dkg pubkey: %v", ErrInvalidFormat, err)
		}
		vn, err := readU32(r)
		if err != nil {
			return fmt.Errorf("%w: dkg versions count: %v", ErrInvalidFormat, err)
		}
		p.SupportedDKGVers = make([]uint32, vn)
		for i := range p.SupportedDKGVers {
			if p.SupportedDKGVers[i], err = readU32(r); err != nil {
				return fmt.Errorf("%w: dkg version: %v", ErrInvalidFormat, err)
			}
		}
		if p.Signature, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: signature: %v", ErrInvalidFormat, err)
		}
		tx.MasternodeRegister = p
	case KindMasternodeCollateral:
		p := &MasternodeCollateralPayload{}
		var err error
		if p.CollateralAmount, err = readU64(r); err != nil {
			return fmt.Errorf("%w: collateral amount: %v", ErrInvalidFormat, err)
		}
		if _, err := readFull(r, p.MasternodeIdentity.TxID[:]); err != nil {
			return fmt.Errorf("%w: masternode identity: %v", ErrInvalidFormat, err)
		}
		if p.MasternodeIdentity.Vout, err = readU32(r); err != nil {
			return fmt.Errorf("%w: masternode identity vout: %v", ErrInvalidFormat, err)
		}
		tx.MasternodeCollateral = p
	case KindMasternodeSlash:
		p := &MasternodeSlashPayload{}
		var err error
		if _, err := readFull(r, p.MasternodeID.TxID[:]); err != nil {
			return fmt.Errorf("%w: masternode id: %v", ErrInvalidFormat, err)
		}
		if p.MasternodeID.Vout, err = readU32(r); err != nil {
			return fmt.Errorf("%w: masternode id vout: %v", ErrInvalidFormat, err)
		}
		reason, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: slash reason: %v", ErrInvalidFormat, err)
		}
		p.Reason = SlashReason(reason)
		if p.Proof, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: proof: %v", ErrInvalidFormat, err)
		}
		tx.MasternodeSlash = p
	case KindGovernanceProposal:
		p := &GovernanceProposalPayload{}
		var err error
		if _, err := readFull(r, p.ProposalID[:]); err != nil {
			return fmt.Errorf("%w: proposal id: %v", ErrInvalidFormat, err)
		}
		if _, err := readFull(r, p.ProposerAddress[:]); err != nil {
			return fmt.Errorf("%w: proposer address: %v", ErrInvalidFormat, err)
		}
		pt, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: proposal type: %v", ErrInvalidFormat, err)
		}
		p.ProposalType = ProposalType(pt)
		if p.StartHeight, err = readU64(r); err != nil {
			return fmt.Errorf("%w: start height: %v", ErrInvalidFormat, err)
		}
		if p.EndHeight, err = readU64(r); err != nil {
			return fmt.Errorf("%w: end height: %v", ErrInvalidFormat, err)
		}
		title, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("%w: title: %v", ErrInvalidFormat, err)
		}
		p.Title = string(title)
		if _, err := readFull(r, p.DescriptionHash[:]); err != nil {
			return fmt.Errorf("%w: description hash: %v", ErrInvalidFormat, err)
		}
		tp, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("%w: target parameter: %v", ErrInvalidFormat, err)
		}
		p.TargetParameter = string(tp)
		if p.NewValue, err = readU64(r); err != nil {
			return fmt.Errorf("%w: new value: %v", ErrInvalidFormat, err)
		}
		if p.ProposerSignature, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: proposer signature: %v", ErrInvalidFormat, err)
		}
		tx.GovernanceProposal = p
	case KindGovernanceVote:
		p := &GovernanceVotePayload{}
		if _, err := readFull(r, p.ProposalID[:]); err != nil {
			return fmt.Errorf("%w: proposal id: %v", ErrInvalidFormat, err)
		}
		vt, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: voter type: %v", ErrInvalidFormat, err)
		}
		p.VoterType = VoterType(vt)
		if _, err := readFull(r, p.VoterID[:]); err != nil {
			return fmt.Errorf("%w: voter id: %v", ErrInvalidFormat, err)
		}
		choice, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: choice: %v", ErrInvalidFormat, err)
		}
		p.Choice = VoteChoice(choice)
		if p.Signature, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: signature: %v", ErrInvalidFormat, err)
		}
		tx.GovernanceVote = p
	case KindActivateProposal:
		p := &ActivateProposalPayload{}
		var err error
		if _, err := readFull(r, p.ProposalID[:]); err != nil {
			return fmt.Errorf("%w: proposal id: %v", ErrInvalidFormat, err)
		}
		if p.ApprovalProof, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: approval proof: %v", ErrInvalidFormat, err)
		}
		if p.ActivatorSignature, err = readBytes(r); err != nil {
			return fmt.Errorf("%w: activator signature: %v", ErrInvalidFormat, err)
		}
		tx.ActivateProposal = p
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidFormat, tx.Kind)
	}
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// Guard against a corrupt length field forcing a huge allocation.
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("unexpected EOF")
		}
	}
	return n, nil
}
