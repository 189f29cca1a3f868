package model

import "time"

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimDelegated ClaimStatus = "delegated"
	ClaimFulfilled ClaimStatus = "fulfilled"
	ClaimDisputed  ClaimStatus = "disputed"
	ClaimReversed  ClaimStatus = "reversed"
)

// InFlight reports whether a claim is still waiting on its module.
func (s ClaimStatus) InFlight() bool {
	return s == ClaimSubmitted || s == ClaimDelegated
}

// VerificationResult is the payload a module delivers when a task is final.
type VerificationResult struct {
	QuantitativeOutcome  int64  `json:"quantitative_outcome"`
	WasArbitrated        bool   `json:"was_arbitrated"`
	ArbitrationDisputeID string `json:"arbitration_dispute_id,omitempty"`
	CredentialCID        string `json:"credential_cid,omitempty"`
}

// Claim is a request that a project's measured impact be verified and
// issued as credits.
type Claim struct {
	ProjectID     string      `json:"project_id"`
	ClaimID       string      `json:"claim_id"`
	MethodologyID string      `json:"methodology_id"`
	EvidenceURI   string      `json:"evidence_uri"`
	TaskID        string      `json:"task_id,omitempty"`
	ModuleAddress string      `json:"module_address,omitempty"`
	Submitter     string      `json:"submitter"`
	Beneficiary   string      `json:"beneficiary,omitempty"`
	Status        ClaimStatus `json:"status"`

	// MethodologyRegistry is the registry MethodologyID was resolved in.
	MethodologyRegistry string `json:"methodology_registry,omitempty"`

	Result          *VerificationResult `json:"result,omitempty"`
	MintedAmount    int64               `json:"minted_amount"`
	BurnedAmount    int64               `json:"burned_amount"`
	ReversalDeficit int64               `json:"reversal_deficit"`
	DisputeID       string              `json:"dispute_id,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
	ReversedAt  *time.Time `json:"reversed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Key returns the store identifier of the claim, unique per project.
func (c Claim) Key() string {
	return ClaimKey(c.ProjectID, c.ClaimID)
}

// ClaimKey builds the store identifier for a (project, claim) pair.
func ClaimKey(projectID, claimID string) string {
	return projectID + "/" + claimID
}

// Outstanding is the number of minted units not yet burned.
func (c Claim) Outstanding() int64 {
	return c.MintedAmount - c.BurnedAmount
}
