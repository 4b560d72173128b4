package domain

import "fmt"

// FaultKind classifies failures for user-visible surfaces. Every error
// that crosses the HTTP boundary is normalized to {kind, message, details}.
type FaultKind string

const (
	FaultValidation       FaultKind = "VALIDATION_FAILURE"
	FaultFileFormat       FaultKind = "FILE_FORMAT"
	FaultImport           FaultKind = "IMPORT_FAILURE"
	FaultStore            FaultKind = "STORE_FAILURE"
	FaultMergeConflict    FaultKind = "MERGE_CONFLICT"
	FaultDependencyCycle  FaultKind = "DEPENDENCY_CYCLE"
	FaultResourceNotFound FaultKind = "RESOURCE_NOT_FOUND"
	FaultTokenExpired     FaultKind = "TOKEN_EXPIRED"
	FaultTokenInvalid     FaultKind = "TOKEN_INVALID"
	FaultTokenRevoked     FaultKind = "TOKEN_REVOKED"
	FaultTokenMismatch    FaultKind = "TOKEN_RESOURCE_MISMATCH"
	FaultCascade          FaultKind = "CASCADE_FAILURE"
	FaultConfiguration    FaultKind = "CONFIGURATION_ERROR"
)

// Fault is the typed error record carried by orchestration operations.
type Fault struct {
	Kind    FaultKind
	Message string
	Details map[string]any
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFault builds a Fault with optional detail pairs (key, value, key, value...).
func NewFault(kind FaultKind, message string, kv ...any) *Fault {
	f := &Fault{Kind: kind, Message: message}
	if len(kv) > 0 {
		f.Details = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			f.Details[key] = kv[i+1]
		}
	}
	return f
}
