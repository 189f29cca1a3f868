package apperr

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesKind(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{NotOwner, KindAuthorization},
		{UnauthorizedModule, KindAuthorization},
		{DuplicateID, KindState},
		{InvalidPauseState, KindState},
		{ZeroOwner, KindValidation},
		{WindowExpired, KindValidation},
		{StaleData, KindEconomic},
		{InsufficientJurors, KindEconomic},
		{Code("something_new"), KindState},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x", "1").Kind)
		})
	}
}

func TestError_Message(t *testing.T) {
	err := New(NotFound, "project", "P1")
	assert.Equal(t, "state: not_found project P1", err.Error())

	err = Newf(InsufficientStake, "verifier", "0xabc", "have %d want %d", 1, 5)
	assert.Equal(t, "economic: insufficient_stake verifier 0xabc: have 1 want 5", err.Error())
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, New(QuorumNotMet, "task", "t").Retryable())
	assert.True(t, New(InsufficientJurors, "dispute", "").Retryable())
	assert.False(t, New(AlreadyVoted, "dispute", "d").Retryable())
	assert.False(t, New(ZeroAmount, "", "").Retryable())
}

func TestAs_ThroughWrapping(t *testing.T) {
	base := New(AlreadyFulfilled, "claim", "P1/C1")
	wrapped := eris.Wrap(base, "orchestrator: fulfill")

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, AlreadyFulfilled, got.Code)
	assert.Equal(t, AlreadyFulfilled, CodeOf(wrapped))
	assert.True(t, Is(wrapped, AlreadyFulfilled))
	assert.False(t, Is(wrapped, NotFound))
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	err := New(NotJuror, "dispute", "d1")
	assert.True(t, errors.Is(err, New(NotJuror, "", "")))
	assert.False(t, errors.Is(err, New(AlreadyVoted, "", "")))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	_, ok := As(nil)
	assert.False(t, ok)
}
