package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus tracks the user's access level.
type SubscriptionStatus string

const (
	SubscriptionTrial    SubscriptionStatus = "TRIAL"
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
	SubscriptionExpired  SubscriptionStatus = "EXPIRED"
)

// User is the account owning assets and integrations. Authentication
// is delegated upstream; this service only mirrors subscription state
// from payment-provider webhooks.
type User struct {
	ID                     uuid.UUID
	Email                  string
	SubscriptionStatus     SubscriptionStatus
	SubscriptionValidUntil *time.Time
	TrialEndsAt            *time.Time
	CreatedAt              time.Time
}

// HasAccess reports whether the user may use the service at the given
// instant: an active subscription, or a trial that has not ended.
func (u *User) HasAccess(now time.Time) bool {
	switch u.SubscriptionStatus {
	case SubscriptionActive:
		return u.SubscriptionValidUntil == nil || now.Before(*u.SubscriptionValidUntil)
	case SubscriptionTrial:
		return u.TrialEndsAt == nil || now.Before(*u.TrialEndsAt)
	default:
		return false
	}
}

// ExchangeCredential holds a user's encrypted API credentials for one
// exchange. Secret fields are sealed at rest and only opened inside the
// integration service.
type ExchangeCredential struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Exchange     string
	APIKey       []byte
	APISecret    []byte
	Passphrase   []byte
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// UserRepository is the persistence boundary for accounts and their
// exchange credentials.
type UserRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	// UpdateSubscription mirrors payment-provider state onto the user.
	UpdateSubscription(ctx context.Context, id uuid.UUID, status SubscriptionStatus, validUntil *time.Time) error
	// ListIDs returns every user id, for per-user job fan-out.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)

	GetCredential(ctx context.Context, userID uuid.UUID, exchange string) (*ExchangeCredential, error)
	SaveCredential(ctx context.Context, cred *ExchangeCredential) error
	// TouchCredentialSync stamps the start of the exchange sync window.
	TouchCredentialSync(ctx context.Context, credentialID uuid.UUID, at time.Time) error
}
