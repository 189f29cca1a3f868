package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisputeVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		votes map[string]Vote
		want  Outcome
	}{
		{"no votes upholds", nil, OutcomeUpheld},
		{"majority overturn", map[string]Vote{"a": VoteOverturn, "b": VoteOverturn, "c": VoteUphold}, OutcomeOverturned},
		{"majority uphold", map[string]Vote{"a": VoteUphold, "b": VoteUphold, "c": VoteOverturn}, OutcomeUpheld},
		{"tie upholds", map[string]Vote{"a": VoteUphold, "b": VoteOverturn}, OutcomeUpheld},
		{"unknown votes ignored", map[string]Vote{"a": "abstain", "b": VoteOverturn}, OutcomeOverturned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Dispute{Votes: tt.votes}.Verdict())
		})
	}
}

func TestDisputeTallyAndJuror(t *testing.T) {
	t.Parallel()
	d := Dispute{
		Jury:  []string{"0xa", "0xb", "0xc"},
		Votes: map[string]Vote{"0xa": VoteUphold, "0xb": VoteOverturn, "0xc": VoteOverturn},
	}
	uphold, overturn := d.Tally()
	assert.Equal(t, 1, uphold)
	assert.Equal(t, 2, overturn)
	assert.True(t, d.IsJuror("0xb"))
	assert.False(t, d.IsJuror("0xd"))
}

func TestVoteValid(t *testing.T) {
	t.Parallel()
	assert.True(t, VoteUphold.Valid())
	assert.True(t, VoteOverturn.Valid())
	assert.False(t, Vote("abstain").Valid())
}

func TestVerifierWeight(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(1000), VerifierRecord{Stake: 100, Reputation: 10}.Weight())
	assert.Equal(t, int64(100), VerifierRecord{Stake: 100, Reputation: 0}.Weight(), "reputation floors at one")
	assert.Equal(t, int64(100), VerifierRecord{Stake: 100, Reputation: -4}.Weight())
	assert.Zero(t, VerifierRecord{Reputation: 10}.Weight())
	assert.Equal(t, int64(math.MaxInt64), VerifierRecord{Stake: math.MaxInt64 / 2, Reputation: 3}.Weight(), "saturates")
}

func TestVerifierEligibleForJury(t *testing.T) {
	t.Parallel()
	assert.True(t, VerifierRecord{IsActive: true, Stake: 1}.EligibleForJury())
	assert.False(t, VerifierRecord{IsActive: false, Stake: 100}.EligibleForJury())
	assert.False(t, VerifierRecord{IsActive: true}.EligibleForJury())
}

func TestClaimHelpers(t *testing.T) {
	t.Parallel()
	c := Claim{ProjectID: "P1", ClaimID: "C1", MintedAmount: 100, BurnedAmount: 30}
	assert.Equal(t, "P1/C1", c.Key())
	assert.Equal(t, int64(70), c.Outstanding())

	assert.True(t, ClaimSubmitted.InFlight())
	assert.True(t, ClaimDelegated.InFlight())
	assert.False(t, ClaimFulfilled.InFlight())
	assert.False(t, ClaimReversed.InFlight())
}

func TestProjectStatusValid(t *testing.T) {
	t.Parallel()
	for _, s := range []ProjectStatus{ProjectPending, ProjectActive, ProjectPaused, ProjectArchived} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ProjectStatus("retired").Valid())
}

func TestMethodologyValid(t *testing.T) {
	t.Parallel()
	assert.True(t, Methodology{IsApproved: true}.Valid())
	assert.False(t, Methodology{IsApproved: true, IsDeprecated: true}.Valid())
	assert.False(t, Methodology{}.Valid())
}

func TestAddAmount(t *testing.T) {
	got, ok := AddAmount(40, 2)
	assert.True(t, ok)
	assert.Equal(t, int64(42), got)

	got, ok = AddAmount(10, -25)
	assert.True(t, ok)
	assert.Equal(t, int64(-15), got)

	_, ok = AddAmount(math.MaxInt64, 1)
	assert.False(t, ok)
	_, ok = AddAmount(math.MinInt64, -1)
	assert.False(t, ok)
}
