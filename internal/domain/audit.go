package domain

import "time"

// AuditRecord is append-only: written on every mutating action, never
// updated, never deleted. BatchID groups rows written under one envelope.
type AuditRecord struct {
	ID           string
	EntityType   string
	EntityID     string
	Action       string
	FieldChanged string
	OldValue     string
	NewValue     string
	ChangeSource ChangeSource
	BatchID      string
	ChangedBy    string
	Reason       string
	Metadata     string
	ChangedAt    time.Time
}

// ImportBatch records one run of the smart merge pipeline.
type ImportBatch struct {
	ID                string
	ProgramID         string
	FileName          string
	FileHash          string
	StartedAt         time.Time
	CompletedAt       *time.Time
	Status            ImportBatchStatus
	Summary           string
	BaselineVersionID *string
}

// BaselineVersion is a frozen snapshot of a program's work items taken
// before an import mutates them. VersionNumber increases per program.
type BaselineVersion struct {
	ID            string
	ProgramID     string
	VersionNumber int
	Snapshot      string
	TotalItems    int
	Reason        string
	CreatedBy     string
	ImportBatchID *string
	CreatedAt     time.Time
}

// Holiday is a non-business date. An empty country code applies universally.
type Holiday struct {
	ID          string
	Date        time.Time
	CountryCode string
	Name        string
}
