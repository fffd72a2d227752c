// Package dfast defines the double hash table fill computed by the
// accelerator kernel, as a pure function usable on the host.
//
// One work-item covers three input positions. Work-item i hashes the five
// bytes at position 3i into the small table and the eight bytes at each of
// 3i, 3i+1 and 3i+2 into the large table.
package dfast

import "encoding/binary"

const (
	// Step is the number of input positions covered by one work-item.
	Step = 3

	prime5bytes uint64 = 889523592379
	prime8bytes uint64 = 0xCF1BBCDCB7A56463
)

// Hash5 hashes the low five bytes of u into h bits.
func Hash5(u uint64, h uint32) uint32 {
	return uint32(((u << (64 - 40)) * prime5bytes) >> (64 - h))
}

// Hash8 hashes all eight bytes of u into h bits.
func Hash8(u uint64, h uint32) uint32 {
	return uint32((u * prime8bytes) >> (64 - h))
}

// ReadLE64 reads a little-endian word at pos. Bytes past the end of buf read
// as zero.
func ReadLE64(buf []byte, pos int) uint64 {
	if pos >= len(buf) {
		return 0
	}
	if pos+8 <= len(buf) {
		return binary.LittleEndian.Uint64(buf[pos:])
	}
	var tmp [8]byte
	copy(tmp[:], buf[pos:])
	return binary.LittleEndian.Uint64(tmp[:])
}

// Fill computes both tables over buf. len(small) is the number of
// work-items; large receives up to Step entries per work-item.
func Fill(buf []byte, small, large []uint32, bitsSmall, bitsLarge uint32) {
	for i := range small {
		p := i * Step
		small[i] = Hash5(ReadLE64(buf, p), bitsSmall)
		for j := 0; j < Step; j++ {
			idx := p + j
			if idx >= len(large) {
				break
			}
			large[idx] = Hash8(ReadLE64(buf, idx), bitsLarge)
		}
	}
}
