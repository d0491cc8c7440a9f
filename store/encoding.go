package store

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/dposvoter/dpos"
)

// encodeTxVote lays out a TxVote as:
// tip 32 | round u64le | voter u32le | decision u8 | subject 32
func encodeTxVote(v dpos.TxVote) []byte {
	out := make([]byte, 0, 32+8+4+1+32)
	out = append(out, v.Tip[:]...)
	out = dpos.AppendU64le(out, uint64(v.Round))
	out = dpos.AppendU32le(out, uint32(v.Voter))
	out = append(out, byte(v.Choice.Decision))
	out = append(out, v.Choice.Subject[:]...)
	return out
}

func decodeTxVote(b []byte) (*dpos.TxVote, error) {
	const want = 32 + 8 + 4 + 1 + 32
	if len(b) != want {
		return nil, fmt.Errorf("tx-vote record: bad length %d", len(b))
	}
	var v dpos.TxVote
	copy(v.Tip[:], b[0:32])
	v.Round = dpos.Round(binary.LittleEndian.Uint64(b[32:40]))
	v.Voter = dpos.VoterID(binary.LittleEndian.Uint32(b[40:44]))
	v.Choice.Decision = dpos.Decision(b[44])
	copy(v.Choice.Subject[:], b[45:77])
	v.TxID = v.Choice.Subject
	return &v, nil
}

// encodeRoundVote lays out a RoundVote identically to a TxVote; BlockHash
// is derived from Choice.Subject on decode (YES carries the block hash,
// PASS carries the all-zero subject per §3).
func encodeRoundVote(v dpos.RoundVote) []byte {
	out := make([]byte, 0, 32+8+4+1+32)
	out = append(out, v.Tip[:]...)
	out = dpos.AppendU64le(out, uint64(v.Round))
	out = dpos.AppendU32le(out, uint32(v.Voter))
	out = append(out, byte(v.Choice.Decision))
	out = append(out, v.Choice.Subject[:]...)
	return out
}

func decodeRoundVote(b []byte) (*dpos.RoundVote, error) {
	const want = 32 + 8 + 4 + 1 + 32
	if len(b) != want {
		return nil, fmt.Errorf("round-vote record: bad length %d", len(b))
	}
	var v dpos.RoundVote
	copy(v.Tip[:], b[0:32])
	v.Round = dpos.Round(binary.LittleEndian.Uint64(b[32:40]))
	v.Voter = dpos.VoterID(binary.LittleEndian.Uint32(b[40:44]))
	v.Choice.Decision = dpos.Decision(b[44])
	copy(v.Choice.Subject[:], b[45:77])
	if v.Choice.Decision == dpos.DecisionYES {
		v.BlockHash = v.Choice.Subject
	}
	return &v, nil
}

// encodeViceBlock lays out a ViceBlock as:
// hash 32 | prev 32 | round u64le | txid_count CompactSize | txids 32*n |
// body_len CompactSize | body | aggsig_len CompactSize | aggsig
func encodeViceBlock(b dpos.ViceBlock) []byte {
	out := make([]byte, 0, 32+32+8+9+len(b.TxIDs)*32+9+len(b.Body)+9+len(b.AggSig))
	out = append(out, b.Hash[:]...)
	out = append(out, b.Prev[:]...)
	out = dpos.AppendU64le(out, uint64(b.Round))
	out = dpos.AppendCompactSize(out, uint64(len(b.TxIDs)))
	for _, id := range b.TxIDs {
		out = append(out, id[:]...)
	}
	out = dpos.AppendCompactSize(out, uint64(len(b.Body)))
	out = append(out, b.Body...)
	out = dpos.AppendCompactSize(out, uint64(len(b.AggSig)))
	out = append(out, b.AggSig...)
	return out
}

func decodeViceBlock(b []byte) (*dpos.ViceBlock, error) {
	if len(b) < 32+32+8 {
		return nil, fmt.Errorf("vice-block record: truncated")
	}
	var out dpos.ViceBlock
	copy(out.Hash[:], b[0:32])
	copy(out.Prev[:], b[32:64])
	out.Round = dpos.Round(binary.LittleEndian.Uint64(b[64:72]))
	off := 72

	count, n, err := readCompactSize(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	out.TxIDs = make([][32]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+32 > len(b) {
			return nil, fmt.Errorf("vice-block record: truncated txids")
		}
		var id [32]byte
		copy(id[:], b[off:off+32])
		out.TxIDs = append(out.TxIDs, id)
		off += 32
	}

	bodyLen, n, err := readCompactSize(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if off+int(bodyLen) > len(b) {
		return nil, fmt.Errorf("vice-block record: truncated body")
	}
	out.Body = append([]byte(nil), b[off:off+int(bodyLen)]...)
	off += int(bodyLen)

	sigLen, n, err := readCompactSize(b, off)
	if err != nil {
		return nil, err
	}
	off += n
	if off+int(sigLen) > len(b) {
		return nil, fmt.Errorf("vice-block record: truncated aggsig")
	}
	out.AggSig = append([]byte(nil), b[off:off+int(sigLen)]...)
	return &out, nil
}

// readCompactSize decodes one Bitcoin-style CompactSize varint from b at
// off, mirroring the teacher's non-minimal-encoding rejection rule.
func readCompactSize(b []byte, off int) (uint64, int, error) {
	if off >= len(b) {
		return 0, 0, fmt.Errorf("compactsize: truncated")
	}
	tag := b[off]
	switch {
	case tag < 0xfd:
		return uint64(tag), 1, nil
	case tag == 0xfd:
		if off+3 > len(b) {
			return 0, 0, fmt.Errorf("compactsize: truncated u16")
		}
		v := binary.LittleEndian.Uint16(b[off+1 : off+3])
		if v < 0xfd {
			return 0, 0, fmt.Errorf("compactsize: non-minimal encoding")
		}
		return uint64(v), 3, nil
	case tag == 0xfe:
		if off+5 > len(b) {
			return 0, 0, fmt.Errorf("compactsize: truncated u32")
		}
		v := binary.LittleEndian.Uint32(b[off+1 : off+5])
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("compactsize: non-minimal encoding")
		}
		return uint64(v), 5, nil
	default:
		if off+9 > len(b) {
			return 0, 0, fmt.Errorf("compactsize: truncated u64")
		}
		v := binary.LittleEndian.Uint64(b[off+1 : off+9])
		if v <= 0xffff_ffff {
			return 0, 0, fmt.Errorf("compactsize: non-minimal encoding")
		}
		return v, 9, nil
	}
}
