package model

import "time"

// DisputeKind distinguishes a challenge against a fulfilled claim from an
// escalation raised by a module before fulfillment.
type DisputeKind string

const (
	DisputeChallenge  DisputeKind = "challenge"
	DisputeEscalation DisputeKind = "escalation"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen         DisputeStatus = "open"
	DisputeJurySelected DisputeStatus = "jury_selected"
	DisputeVotingOpen   DisputeStatus = "voting_open"
	DisputeResolved     DisputeStatus = "resolved"
)

// Vote is a juror's verdict on the disputed result.
type Vote string

const (
	VoteUphold   Vote = "uphold"
	VoteOverturn Vote = "overturn"
)

// Valid reports whether v is a known vote.
func (v Vote) Valid() bool {
	return v == VoteUphold || v == VoteOverturn
}

// Outcome is the resolved verdict of a dispute.
type Outcome string

const (
	OutcomeUpheld     Outcome = "upheld"
	OutcomeOverturned Outcome = "overturned"
)

// Dispute is a jury proceeding over a verification result.
type Dispute struct {
	ID              string          `json:"id"`
	Kind            DisputeKind     `json:"kind"`
	TaskID          string          `json:"task_id"`
	ProjectID       string          `json:"project_id"`
	ClaimID         string          `json:"claim_id"`
	ModuleAddress   string          `json:"module_address"`
	Challenger      string          `json:"challenger"`
	Jury            []string        `json:"jury"`
	Votes           map[string]Vote `json:"votes"`
	Implicated      []string        `json:"implicated"`
	ProposedOutcome int64           `json:"proposed_outcome,omitempty"`
	Status          DisputeStatus   `json:"status"`
	Outcome         Outcome         `json:"outcome,omitempty"`
	Deadline        time.Time       `json:"deadline"`
	Resolved        bool            `json:"resolved"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// IsJuror reports whether addr sits on the dispute's jury.
func (d Dispute) IsJuror(addr string) bool {
	for _, j := range d.Jury {
		if j == addr {
			return true
		}
	}
	return false
}

// Tally counts cast votes.
func (d Dispute) Tally() (uphold, overturn int) {
	for _, v := range d.Votes {
		switch v {
		case VoteUphold:
			uphold++
		case VoteOverturn:
			overturn++
		}
	}
	return uphold, overturn
}

// Verdict is the simple majority of cast votes. Ties uphold.
func (d Dispute) Verdict() Outcome {
	uphold, overturn := d.Tally()
	if overturn > uphold {
		return OutcomeOverturned
	}
	return OutcomeUpheld
}

// EscalationRequest is what a module hands the council when its own
// resolution rule cannot settle a task.
type EscalationRequest struct {
	TaskID          string   `json:"task_id"`
	ProjectID       string   `json:"project_id"`
	ClaimID         string   `json:"claim_id"`
	Implicated      []string `json:"implicated"`
	ProposedOutcome int64    `json:"proposed_outcome"`
}
