package model

import "time"

// VerifierRecord is a staked, reputation-bearing verifier in the pool.
type VerifierRecord struct {
	Address    string    `json:"address"`
	Stake      int64     `json:"stake"`
	Reputation int64     `json:"reputation"`
	IsActive   bool      `json:"is_active"`
	JoinedAt   time.Time `json:"joined_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EligibleForJury reports whether the verifier may be drawn for a jury.
func (v VerifierRecord) EligibleForJury() bool {
	return v.IsActive && v.Stake > 0
}

// Weight is the stake-and-reputation weight used for selection and quorum.
// Reputation below one still counts as one so that a freshly staked verifier
// is never weightless. The product saturates at MaxInt64.
func (v VerifierRecord) Weight() int64 {
	rep := v.Reputation
	if rep < 1 {
		rep = 1
	}
	return mulSaturating(v.Stake, rep)
}
