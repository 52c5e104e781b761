package tinycan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexRoundTrip(t *testing.T) {
	samples := []uint32{
		0x00000000,
		0x00000001,
		0x0000FFFF,
		0x000F0000,
		0x00F00000,
		0x01000000,
		0x02000000,
		0x03FF1234,
		0xFFFFFFFF, // reserved bits are dropped by the field view
	}
	for _, sample := range samples {
		index := Index(sample)
		repacked := index.Bits().Pack()
		assert.Equal(t, repacked.Bits(), index.Bits(), "sample %#x", sample)
		assert.Equal(t, repacked, repacked.Bits().Pack(), "sample %#x", sample)
	}
}

func TestIndexBits(t *testing.T) {
	bits := IndexBits{SubIndex: 5, Channel: 2, Device: 1, Tx: true, Soft: true}
	index := bits.Pack()
	assert.Equal(t, uint16(5), index.SubIndex())
	assert.Equal(t, uint8(2), index.Channel())
	assert.Equal(t, uint8(1), index.Device())
	assert.True(t, index.Tx())
	assert.True(t, index.Soft())
	assert.Equal(t, bits, index.Bits())
}

func TestIndexDefault(t *testing.T) {
	var index Index
	assert.Equal(t, IndexBits{}, index.Bits())
	assert.Equal(t, Index(0), IndexBits{}.Pack())
}

func TestSlotIndex(t *testing.T) {
	index := SlotIndex(3)
	assert.Equal(t, uint16(3), index.SubIndex())
	assert.Equal(t, uint8(0), index.Channel())
	assert.False(t, index.Tx())
}
