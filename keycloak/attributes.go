package keycloak

import (
	"strconv"
	"time"

	"github.com/open-rails/paykit/entitlements"
)

// Attribute keys on the Keycloak user representation. These names are
// part of the deployed contract; tokens mapped from them reach clients.
const (
	attrTier        = "tier"
	attrAITokens    = "ai_tokens"
	attrStorage     = "storage"
	attrExpiration  = "expiration_date"
	attrLastEventID = "last_event_id"
)

func firstAttr(attrs map[string][]string, key string) string {
	if v := attrs[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// recordFromAttributes decodes the entitlement attribute set. Unparsable
// values degrade to their zero value rather than failing the read; a
// malformed record is treated as revoked, which the next grant repairs.
func recordFromAttributes(userID string, attrs map[string][]string) entitlements.Record {
	rec := entitlements.Record{UserID: userID}
	if tier, ok := entitlements.ParseTier(firstAttr(attrs, attrTier)); ok {
		rec.Tier = tier
	}
	rec.AITokens, _ = strconv.ParseInt(firstAttr(attrs, attrAITokens), 10, 64)
	rec.Storage, _ = strconv.ParseInt(firstAttr(attrs, attrStorage), 10, 64)
	if raw := firstAttr(attrs, attrExpiration); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.ExpiresAt = &t
		}
	}
	rec.LastEventID = firstAttr(attrs, attrLastEventID)
	return rec
}

// applyRecordAttributes writes the entitlement attribute set into attrs,
// leaving unrelated attributes in place. A revoked record writes empty
// strings, matching how clients distinguish "cleared" from "never set".
func applyRecordAttributes(attrs map[string][]string, rec entitlements.Record) {
	attrs[attrTier] = []string{string(rec.Tier)}
	attrs[attrAITokens] = []string{strconv.FormatInt(rec.AITokens, 10)}
	attrs[attrStorage] = []string{strconv.FormatInt(rec.Storage, 10)}
	if rec.ExpiresAt != nil {
		attrs[attrExpiration] = []string{rec.ExpiresAt.UTC().Format(time.RFC3339)}
	} else {
		attrs[attrExpiration] = []string{""}
	}
	attrs[attrLastEventID] = []string{rec.LastEventID}
}
