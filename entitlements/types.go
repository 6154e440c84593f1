package entitlements

import (
	"strings"
	"time"
)

// Tier is the subscription level attached to a user identity.
// The zero value means no active subscription.
type Tier string

const (
	TierNone     Tier = ""
	TierBasic    Tier = "basic"
	TierAdvanced Tier = "advanced"
	TierPro      Tier = "pro"
)

// ParseTier normalizes a tier name. Returns false for unknown tiers;
// the empty string parses to TierNone.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierNone:
		return TierNone, true
	case TierBasic:
		return TierBasic, true
	case TierAdvanced:
		return TierAdvanced, true
	case TierPro:
		return TierPro, true
	}
	return TierNone, false
}

// Record is the entitlement attribute set stored on one user identity.
// It is the unit the Synchronizer serializes writes on.
type Record struct {
	UserID      string     `json:"user_id"`
	Tier        Tier       `json:"tier"`
	AITokens    int64      `json:"ai_tokens"`
	Storage     int64      `json:"storage"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastEventID string     `json:"last_event_id,omitempty"`
}

// Granted reports whether the record carries an active entitlement.
func (r Record) Granted() bool { return r.Tier != TierNone }

// Expired reports whether the record has an expiration in the past.
// Records without an expiration never expire.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// revoked returns a copy of r with the entitlement cleared and the
// watermark advanced. Tier none implies zero quotas and no expiration.
func (r Record) revoked(watermark string) Record {
	return Record{UserID: r.UserID, LastEventID: watermark}
}
