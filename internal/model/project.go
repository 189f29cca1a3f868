package model

import "time"

// ProjectStatus is the lifecycle state of a registered project.
type ProjectStatus string

const (
	ProjectPending  ProjectStatus = "pending"
	ProjectActive   ProjectStatus = "active"
	ProjectPaused   ProjectStatus = "paused"
	ProjectArchived ProjectStatus = "archived"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPending, ProjectActive, ProjectPaused, ProjectArchived:
		return true
	default:
		return false
	}
}

// Project is a real-world activity whose measured impact can be claimed.
type Project struct {
	ID          string        `json:"id"`
	MetadataURI string        `json:"metadata_uri"`
	Owner       string        `json:"owner"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
