package dpos

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// AppendU16le appends v as a 2-byte little-endian value to dst.
func AppendU16le(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendU32le appends v as a 4-byte little-endian value to dst.
func AppendU32le(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendU64le appends v as an 8-byte little-endian value to dst.
func AppendU64le(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendCompactSize encodes n in Bitcoin-style CompactSize and appends to dst.
func AppendCompactSize(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		return AppendU16le(dst, uint16(n))
	case n <= 0xffff_ffff:
		dst = append(dst, 0xfe)
		return AppendU32le(dst, uint32(n))
	default:
		dst = append(dst, 0xff)
		return AppendU64le(dst, n)
	}
}

func sha3_256(b []byte) [32]byte {
	return sha3.Sum256(b)
}

// domain-separation salts for signing hashes (§4.A: "fixed per-type salt").
var (
	saltTxVote    = [16]byte{'r', 'u', 'b', 'i', 'n', '-', 't', 'x', 'v', 'o', 't', 'e', '-', 'v', '1', 0}
	saltRoundVote = [16]byte{'r', 'u', 'b', 'i', 'n', '-', 'r', 'n', 'd', 'v', 'o', 't', 'e', '-', 'v', '1'}
)
