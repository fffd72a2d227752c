package dfast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLE64(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}

	assert.Equal(t, uint64(0x0807060504030201), ReadLE64(buf, 0))
	assert.Equal(t, uint64(0x0908070605040302), ReadLE64(buf, 1))
	// Tail bytes past the end are zero.
	assert.Equal(t, uint64(0x09), ReadLE64(buf, 8))
	assert.Equal(t, uint64(0), ReadLE64(buf, 9))
	assert.Equal(t, uint64(0), ReadLE64(buf, 100))
}

func TestHashRange(t *testing.T) {
	for _, u := range []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0123456789ABCDEF} {
		assert.Less(t, Hash5(u, 16), uint32(1<<16))
		assert.Less(t, Hash8(u, 17), uint32(1<<17))
	}
	assert.Equal(t, uint32(0), Hash5(0, 16))
	assert.Equal(t, uint32(0), Hash8(0, 17))
}

func TestHash5IgnoresHighBytes(t *testing.T) {
	low := uint64(0x0000000504030201)
	high := uint64(0xFFFFFF0504030201)
	assert.Equal(t, Hash5(low, 16), Hash5(high, 16))
	assert.NotEqual(t, Hash8(low, 17), Hash8(high, 17))
}

func TestFill(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	small := make([]uint32, len(buf)/Step)
	large := make([]uint32, len(small)*Step)

	Fill(buf, small, large, 16, 17)

	for i := range small {
		require.Equal(t, Hash5(ReadLE64(buf, i*Step), 16), small[i], "small[%d]", i)
	}
	for i := range large {
		require.Equal(t, Hash8(ReadLE64(buf, i), 17), large[i], "large[%d]", i)
	}
}

func TestFill_ShortLarge(t *testing.T) {
	buf := make([]byte, 30)
	small := make([]uint32, 10)
	large := make([]uint32, 4)
	for i := range large {
		large[i] = 0xDEADBEEF
	}

	assert.NotPanics(t, func() {
		Fill(buf, small, large, 16, 17)
	})
	for _, v := range large {
		assert.Equal(t, uint32(0), v)
	}
}

func TestFill_Deterministic(t *testing.T) {
	buf := []byte("the quick brown fox jumps over the lazy dog, twice over")
	s1, l1 := make([]uint32, 18), make([]uint32, 54)
	s2, l2 := make([]uint32, 18), make([]uint32, 54)

	Fill(buf, s1, l1, 16, 17)
	Fill(buf, s2, l2, 16, 17)

	assert.Equal(t, s1, s2)
	assert.Equal(t, l1, l2)
}
