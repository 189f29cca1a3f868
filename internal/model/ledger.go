package model

import "time"

// EntryKind classifies a ledger journal entry.
type EntryKind string

const (
	EntryMint     EntryKind = "mint"
	EntryBurn     EntryKind = "burn"
	EntryTransfer EntryKind = "transfer"
)

// Balance is a holder's credit balance for one project's issuance.
type Balance struct {
	Holder    string    `json:"holder"`
	ProjectID string    `json:"project_id"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceKey builds the store identifier of a holder's project balance.
func BalanceKey(holder, projectID string) string {
	return holder + "/" + projectID
}

// LedgerEntry is one line of the issuance journal.
type LedgerEntry struct {
	ID          string    `json:"id"`
	Kind        EntryKind `json:"kind"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	ProjectID   string    `json:"project_id"`
	Amount      int64     `json:"amount"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
