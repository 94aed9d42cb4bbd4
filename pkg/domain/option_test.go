package domain_test

import (
	"testing"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourRange_Contains(t *testing.T) {
	day := domain.HourRange{From: 8, To: 16}
	assert.True(t, day.Contains(8))
	assert.True(t, day.Contains(10))
	assert.False(t, day.Contains(16), "upper bound is exclusive")
	assert.False(t, day.Contains(23))

	night := domain.HourRange{From: 22, To: 6}
	assert.True(t, night.Contains(23))
	assert.True(t, night.Contains(0))
	assert.True(t, night.Contains(5))
	assert.False(t, night.Contains(6))
	assert.False(t, night.Contains(12))

	full := domain.HourRange{From: 0, To: 24}
	assert.True(t, full.Contains(0))
	assert.True(t, full.Contains(23))
}

func TestParseHourRange(t *testing.T) {
	r, err := domain.ParseHourRange("8-16")
	require.NoError(t, err)
	assert.Equal(t, domain.HourRange{From: 8, To: 16}, r)
	assert.Equal(t, "8-16", r.String())

	for _, bad := range []string{"", "8", "8-8", "a-b", "-1-5", "25-3", "3-25"} {
		_, err := domain.ParseHourRange(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidTimeRange, bad)
	}
}

func TestOptionsByNode_NodeIDs(t *testing.T) {
	opts := domain.OptionsByNode{"b": nil, "a": nil, "c": nil}
	assert.Equal(t, []string{"a", "b", "c"}, opts.NodeIDs())
}
