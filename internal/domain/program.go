package domain

import "time"

// Program is the top-level plan container. PMOwnerID and SecondaryPMID feed
// the final escalation level.
type Program struct {
	ID            string
	ExternalID    string
	Name          string
	Status        ProgramStatus
	BaselineStart *time.Time
	BaselineEnd   *time.Time
	PMOwnerID     *string
	SecondaryPMID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Project is unique per (program_id, external_id).
type Project struct {
	ID         string
	ExternalID string
	ProgramID  string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Phase is unique per (project_id, external_id).
type Phase struct {
	ID         string
	ExternalID string
	ProjectID  string
	Name       string
	Sequence   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
