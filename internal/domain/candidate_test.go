package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniverse_LookupIsCaseInsensitive(t *testing.T) {
	u, err := NewUniverse([]Candidate{
		{Symbol: "SOL", Mint: SOLMint, Decimals: 9},
		{Symbol: "bonk", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
	})
	require.NoError(t, err)

	c, err := u.Lookup("Bonk")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Decimals)
	assert.Equal(t, 2, u.Len())
	assert.Equal(t, "SOL", u.All()[0].Symbol)
}

func TestUniverse_UnknownSymbol(t *testing.T) {
	u, err := NewUniverse([]Candidate{{Symbol: "SOL", Mint: SOLMint, Decimals: 9}})
	require.NoError(t, err)

	_, err = u.Lookup("WIF")
	assert.True(t, errors.Is(err, ErrUnknownCandidate))
}

func TestUniverse_RejectsDuplicates(t *testing.T) {
	_, err := NewUniverse([]Candidate{
		{Symbol: "SOL", Mint: SOLMint},
		{Symbol: "sol", Mint: SOLMint},
	})
	assert.Error(t, err)
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1)
	assert.True(t, e.Emit(Event{Type: EventStatus}))
	assert.False(t, e.Emit(Event{Type: EventStatus}))

	ev := <-e.Events()
	assert.False(t, ev.At.IsZero())

	var nilEmitter *Emitter
	assert.False(t, nilEmitter.Emit(Event{}))
}

func TestRejectionReason_Err(t *testing.T) {
	assert.ErrorIs(t, ReasonStaleQuote.Err(), ErrStaleQuote)
	assert.ErrorIs(t, ReasonDailyLimitExceeded.Err(), ErrDailyLimitExceeded)
	assert.Nil(t, ReasonInsufficientProfit.Err())
}

func TestNewScanReport_TalliesReasons(t *testing.T) {
	r := NewScanReport([]Evaluation{
		{Accepted: true},
		{Reason: ReasonGatewayError},
		{Reason: ReasonGatewayError},
		{Reason: ReasonLowLiquidity},
	})
	assert.Equal(t, 1, r.Accepted)
	assert.Equal(t, 2, r.Rejected[ReasonGatewayError])
	assert.Equal(t, 1, r.Rejected[ReasonLowLiquidity])
}
