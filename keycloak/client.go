// Package keycloak is a typed client for the slice of the Keycloak
// admin and OIDC APIs this service needs: reading and writing a user's
// entitlement attributes, enumerating users for the expiration sweep,
// and resolving an access token to a user id.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/entitlements"
)

// Config describes the realm and the service account used for admin calls.
type Config struct {
	BaseURL      string // e.g. https://id.example.com
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration // per-request bound, default 10s
	PageSize     int           // users list page size, default 100
}

// Client talks to one Keycloak realm. Admin calls carry a
// client-credentials token refreshed by the oauth2 transport.
type Client struct {
	baseURL  string
	realm    string
	admin    *http.Client
	plain    *http.Client
	pageSize int
	log      logrus.FieldLogger
}

// New builds a realm client. The client-credentials token source lives
// for the life of the process and refreshes itself as needed.
func New(cfg Config, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/realms/" + cfg.Realm + "/protocol/openid-connect/token",
	}
	admin := cc.Client(context.Background())
	admin.Timeout = timeout

	return &Client{
		baseURL:  base,
		realm:    cfg.Realm,
		admin:    admin,
		plain:    &http.Client{Timeout: timeout},
		pageSize: pageSize,
		log:      log,
	}
}

func (c *Client) adminUsersURL() string {
	return c.baseURL + "/admin/realms/" + c.realm + "/users"
}

// userRepresentation is the subset of the Keycloak user representation
// we read and write. Attributes round-trip untouched except for the
// entitlement keys.
type userRepresentation struct {
	ID         string              `json:"id"`
	Username   string              `json:"username,omitempty"`
	Email      string              `json:"email,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

func (c *Client) getUser(ctx context.Context, userID string) (*userRepresentation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminUsersURL()+"/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.admin.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: get user: status %s", core.ErrProviderUnavailable, resp.Status)
	}
	var rep userRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", core.ErrProviderUnavailable, err)
	}
	return &rep, nil
}

// ReadRecord fetches the user's entitlement attributes. A user without
// entitlement attributes yields the zero record with UserID set.
func (c *Client) ReadRecord(ctx context.Context, userID string) (entitlements.Record, error) {
	rep, err := c.getUser(ctx, userID)
	if err != nil {
		return entitlements.Record{}, err
	}
	return recordFromAttributes(userID, rep.Attributes), nil
}

// WriteRecord re-fetches the user representation, replaces the
// entitlement attributes, and PUTs it back. A 409 from Keycloak maps to
// entitlements.ErrConflict so the synchronizer can retry once.
func (c *Client) WriteRecord(ctx context.Context, rec entitlements.Record) error {
	rep, err := c.getUser(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if rep.Attributes == nil {
		rep.Attributes = make(map[string][]string)
	}
	applyRecordAttributes(rep.Attributes, rec)

	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("keycloak: marshal user: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.adminUsersURL()+"/"+url.PathEscape(rec.UserID), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.admin.Do(req)
	if err != nil {
		return fmt.Errorf("%w: update user: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: user %s", entitlements.ErrConflict, rec.UserID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: update user: status %s", core.ErrProviderUnavailable, resp.Status)
	}
	return nil
}

// ListRecords enumerates every user in the realm and returns their
// entitlement records. Used by the expiration sweep; pages through the
// admin users endpoint.
func (c *Client) ListRecords(ctx context.Context) ([]entitlements.Record, error) {
	var out []entitlements.Record
	for first := 0; ; first += c.pageSize {
		u := c.adminUsersURL() + "?briefRepresentation=false&first=" + strconv.Itoa(first) + "&max=" + strconv.Itoa(c.pageSize)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.admin.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: list users: %v", core.ErrProviderUnavailable, err)
		}
		var reps []userRepresentation
		err = json.NewDecoder(resp.Body).Decode(&reps)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: list users: status %s", core.ErrProviderUnavailable, resp.Status)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decode users: %v", core.ErrProviderUnavailable, err)
		}
		for _, rep := range reps {
			out = append(out, recordFromAttributes(rep.ID, rep.Attributes))
		}
		if len(reps) < c.pageSize {
			return out, nil
		}
	}
}

// LookupContact returns the user's email and locale for notifications.
func (c *Client) LookupContact(ctx context.Context, userID string) (email, locale string, err error) {
	rep, err := c.getUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if v := rep.Attributes["locale"]; len(v) > 0 {
		locale = v[0]
	}
	return rep.Email, locale, nil
}
