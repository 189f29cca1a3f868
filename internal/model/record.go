package model

import "strings"

// Record kinds partition the document store.
const (
	KindProject     = "project"
	KindMethodology = "methodology"
	KindClaim       = "claim"
	KindTaskIndex   = "claim_task"
	KindVerifier    = "verifier"
	KindDispute     = "dispute"
	KindBalance     = "balance"
	KindEntry       = "ledger_entry"
	KindRoleGrant   = "role_grant"
	KindSetting     = "setting"
	KindRepTask     = "reputation_task"
	KindOracleTask  = "oracle_task"
	KindDevice      = "oracle_device"
	KindReading     = "oracle_reading"
	KindDelegation  = "delegated_task"
)

// Role is a named permission held by an address.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleGovernance Role = "governance"
	RoleVerifier   Role = "verifier"
)

// RoleGrant records that an address holds a role.
type RoleGrant struct {
	Address   string `json:"address"`
	Role      Role   `json:"role"`
	GrantedBy string `json:"granted_by"`
	Revoked   bool   `json:"revoked,omitempty"`
}

// ValidID reports whether id can be embedded in a composite store key.
// Keys join their parts with "/", so a part may not contain one.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}
