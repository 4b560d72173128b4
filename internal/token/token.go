// Package token mints and validates the signed magic-link tokens embedded
// in alert emails. A token authorizes exactly one status response for one
// work item by one resource, without a login.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/repository"
)

const tokenType = "magic_link"

// Claims is the signed payload of a magic-link token.
type Claims struct {
	WorkItemID string `json:"work_item_id"`
	AlertID    string `json:"alert_id,omitempty"`
	TokenType  string `json:"type"`
	jwt.RegisteredClaims
}

// Minted pairs the plaintext token (for the URL) with the stored row.
type Minted struct {
	Token  string
	Record *domain.ResponseToken
}

// Service signs, hashes and validates response tokens. Only the SHA-256
// hash of a token is ever persisted.
type Service struct {
	secret []byte
	tokens repository.ResponseTokenRepo
	now    func() time.Time
}

func NewService(secret []byte, tokens repository.ResponseTokenRepo) *Service {
	return &Service{secret: secret, tokens: tokens, now: time.Now}
}

// WithClock overrides the clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Hash returns the hex SHA-256 digest of a plaintext token.
func Hash(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// ExpiryFor returns the token expiry: end of the day after the deadline,
// UTC, so late responders get a 24-hour grace window.
func ExpiryFor(deadline time.Time) time.Time {
	d := deadline.UTC()
	next := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 2)
	return next.Add(-time.Second)
}

// Mint signs a new token for a resource/work item pair and persists its
// hash. The plaintext is returned once and never stored.
func (s *Service) Mint(ctx context.Context, resourceID, workItemID, alertID string, deadline time.Time) (*Minted, error) {
	now := s.now().UTC()
	expiresAt := ExpiryFor(deadline)
	jti := uuid.New().String()

	claims := Claims{
		WorkItemID: workItemID,
		AlertID:    alertID,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   resourceID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	rec := &domain.ResponseToken{
		ID:         jti,
		TokenHash:  Hash(signed),
		WorkItemID: workItemID,
		ResourceID: resourceID,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}
	if alertID != "" {
		rec.AlertID = &alertID
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing token hash: %w", err)
	}
	return &Minted{Token: signed, Record: rec}, nil
}

// Validated carries the verified claims plus the stored row when one exists.
type Validated struct {
	Claims *Claims
	Record *domain.ResponseToken
}

// Validate verifies the signature and expiry, then cross-checks the store.
// A missing hash row is tolerated (the signature alone proves authenticity);
// a revoked row is not.
func (s *Service) Validate(ctx context.Context, tok string) (*Validated, error) {
	parsed, err := jwt.ParseWithClaims(tok, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.NewFault(domain.FaultTokenExpired, "this response link has expired")
		}
		return nil, domain.NewFault(domain.FaultTokenInvalid, "this response link is not valid")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.TokenType != tokenType {
		return nil, domain.NewFault(domain.FaultTokenInvalid, "this response link is not valid")
	}

	v := &Validated{Claims: claims}
	rec, err := s.tokens.GetByHash(ctx, Hash(tok))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return v, nil
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	if rec.Revoked {
		return nil, domain.NewFault(domain.FaultTokenRevoked, "this response link has already been used",
			"used_by_response_id", stringOrEmpty(rec.UsedByResponseID))
	}
	if rec.ResourceID != claims.Subject || rec.WorkItemID != claims.WorkItemID {
		return nil, domain.NewFault(domain.FaultTokenMismatch, "this response link does not match its record")
	}
	v.Record = rec
	return v, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
