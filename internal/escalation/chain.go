// Package escalation resolves a work-item owner into the ordered
// Primary -> Backup -> Manager -> PM recipient chain and applies the
// per-level timeout policy.
package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

// Chain levels. The chain is always exactly four levels deep; level 3 may
// be absent when no PM resolves anywhere.
const (
	LevelPrimary = 0
	LevelBackup  = 1
	LevelManager = 2
	LevelPM      = 3
)

// Recipient is one resolved chain entry. Synthetic recipients (fallback
// emails with no resource row) carry a nil ResourceID.
type Recipient struct {
	Level      int
	ResourceID *string
	Name       string
	Email      string
	Timezone   string
	Synthetic  bool
}

// Skipped records a chain entry passed over during availability filtering.
type Skipped struct {
	Level      int
	ResourceID string
	Reason     string
}

// ResourceLookup is the subset of the resource repository the resolver
// needs.
type ResourceLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
}

// OrgSettingsLookup supplies the org-wide PM fallbacks.
type OrgSettingsLookup interface {
	Get(ctx context.Context) (*domain.OrgSettings, error)
}

// Resolver builds escalation chains. OpsFallbackEmail is the
// application-config final recipient consulted after every stored
// fallback fails to resolve.
type Resolver struct {
	resources        ResourceLookup
	orgSettings      OrgSettingsLookup
	OpsFallbackEmail string
}

func NewResolver(resources ResourceLookup, orgSettings OrgSettingsLookup, opsFallbackEmail string) *Resolver {
	return &Resolver{resources: resources, orgSettings: orgSettings, OpsFallbackEmail: opsFallbackEmail}
}

// BuildChain resolves the full chain for an owner within a program.
// Levels 0-2 come from the owner's record; level 3 resolves in order:
// program pm_owner, program secondary_pm, org default PM, org fallback
// email, ops fallback email. A chain without level 3 ends at level 2.
func (r *Resolver) BuildChain(ctx context.Context, owner *domain.Resource, program *domain.Program) ([]Recipient, error) {
	if owner == nil {
		return nil, errors.New("escalation chain requires an owner")
	}

	chain := []Recipient{{
		Level:      LevelPrimary,
		ResourceID: &owner.ID,
		Name:       owner.Name,
		Email:      owner.EmailForNotification(),
		Timezone:   owner.Timezone,
	}}

	if rec := r.resolveResource(ctx, owner.BackupResourceID, LevelBackup); rec != nil {
		chain = append(chain, *rec)
	}
	if rec := r.resolveResource(ctx, owner.ManagerID, LevelManager); rec != nil {
		chain = append(chain, *rec)
	}
	if rec := r.resolvePM(ctx, program); rec != nil {
		chain = append(chain, *rec)
	}

	return chain, nil
}

func (r *Resolver) resolveResource(ctx context.Context, id *string, level int) *Recipient {
	if id == nil || *id == "" {
		return nil
	}
	res, err := r.resources.GetByID(ctx, *id)
	if err != nil {
		return nil
	}
	return &Recipient{
		Level:      level,
		ResourceID: &res.ID,
		Name:       res.Name,
		Email:      res.EmailForNotification(),
		Timezone:   res.Timezone,
	}
}

func (r *Resolver) resolvePM(ctx context.Context, program *domain.Program) *Recipient {
	if program != nil {
		if rec := r.resolveResource(ctx, program.PMOwnerID, LevelPM); rec != nil {
			return rec
		}
		if rec := r.resolveResource(ctx, program.SecondaryPMID, LevelPM); rec != nil {
			return rec
		}
	}

	if r.orgSettings != nil {
		settings, err := r.orgSettings.Get(ctx)
		if err == nil && settings != nil {
			if rec := r.resolveResource(ctx, settings.DefaultPMResourceID, LevelPM); rec != nil {
				return rec
			}
			if settings.EscalationEmailFallback != "" {
				return &Recipient{
					Level:     LevelPM,
					Name:      "escalation fallback",
					Email:     settings.EscalationEmailFallback,
					Timezone:  "UTC",
					Synthetic: true,
				}
			}
		}
	}

	if r.OpsFallbackEmail != "" {
		return &Recipient{
			Level:     LevelPM,
			Name:      "ops fallback",
			Email:     r.OpsFallbackEmail,
			Timezone:  "UTC",
			Synthetic: true,
		}
	}
	return nil
}

// FindAvailableRecipient walks the chain from startLevel, skipping any
// recipient whose availability is not active. Synthetic recipients are
// always considered available. Returns (nil, skipped) when nobody in the
// chain can take the alert.
func (r *Resolver) FindAvailableRecipient(ctx context.Context, owner *domain.Resource, program *domain.Program, startLevel int) (*Recipient, []Skipped, error) {
	chain, err := r.BuildChain(ctx, owner, program)
	if err != nil {
		return nil, nil, err
	}

	var skipped []Skipped
	for _, rec := range chain {
		if rec.Level < startLevel {
			continue
		}
		if rec.Synthetic {
			return &rec, skipped, nil
		}
		res, err := r.resources.GetByID(ctx, *rec.ResourceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				skipped = append(skipped, Skipped{Level: rec.Level, ResourceID: *rec.ResourceID, Reason: "resource not found"})
				continue
			}
			return nil, skipped, fmt.Errorf("checking availability at level %d: %w", rec.Level, err)
		}
		if !res.Available() {
			skipped = append(skipped, Skipped{
				Level:      rec.Level,
				ResourceID: res.ID,
				Reason:     fmt.Sprintf("availability is %s", res.AvailabilityStatus),
			})
			continue
		}
		return &rec, skipped, nil
	}
	return nil, skipped, nil
}
