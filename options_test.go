package tinycan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMerge(t *testing.T) {
	t.Run("overwrite keeps other keys", func(t *testing.T) {
		options := NewOptions()
		require.Nil(t, options.Merge(map[string]any{OptCanSpeed1: 125, OptSnr: "0001"}))
		require.Nil(t, options.Merge(map[string]any{OptCanSpeed1: 250}))
		speed, ok := options.Get(OptCanSpeed1)
		assert.True(t, ok)
		assert.Equal(t, "250", speed)
		serial, ok := options.Get(OptSnr)
		assert.True(t, ok)
		assert.Equal(t, "0001", serial)
	})
	t.Run("unknown key rejected", func(t *testing.T) {
		options := NewOptions()
		err := options.Merge(map[string]any{"CanSpeeed1": 250})
		assert.ErrorIs(t, err, ErrUnknownOption)
		_, ok := options.Get(OptCanSpeed1)
		assert.False(t, ok)
	})
	t.Run("invalid value type rejected", func(t *testing.T) {
		options := NewOptions()
		err := options.Merge(map[string]any{OptCanSpeed1: 2.5})
		assert.ErrorIs(t, err, ErrInvalidOptionValue)
	})
	t.Run("nothing merged on failure", func(t *testing.T) {
		options := NewOptions()
		err := options.Merge(map[string]any{OptCanSpeed1: 250, "bogus": 1})
		assert.ErrorIs(t, err, ErrUnknownOption)
		_, ok := options.Get(OptCanSpeed1)
		assert.False(t, ok)
	})
}

func TestOptionsSerialize(t *testing.T) {
	options := NewOptions()
	require.Nil(t, options.Merge(map[string]any{OptCanSpeed1: 250}))
	// CanSpeed1 belongs to the runtime subset, not the init subset
	assert.NotContains(t, options.Serialize(SubsetInit), OptCanSpeed1)
	assert.Equal(t, "CanSpeed1=250", options.Serialize(SubsetRuntime))
}

func TestOptionsSerializeOrder(t *testing.T) {
	options := NewOptions()
	require.Nil(t, options.Merge(map[string]any{
		OptSnr:           "ABCD",
		OptPort:          1,
		OptComDeviceName: "ttyUSB0",
	}))
	// Declared subset order, not merge order
	assert.Equal(t, "Port=1,ComDeviceName=ttyUSB0,Snr=ABCD", options.Serialize(SubsetOpen))
}

func TestOptionsSerializeEmpty(t *testing.T) {
	assert.Equal(t, "", NewOptions().Serialize(SubsetInit))
}

func TestParseProperties(t *testing.T) {
	properties := ParseProperties("Hardware=Tiny-CAN M1,Anzahl Filter=16,garbage,=nokey,Snr=0001")
	assert.Equal(t, map[string]string{
		"Hardware":      "Tiny-CAN M1",
		"Anzahl Filter": "16",
		"Snr":           "0001",
	}, properties)
}

func TestParsePropertiesEmpty(t *testing.T) {
	assert.Empty(t, ParseProperties(""))
}
