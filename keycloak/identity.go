package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/open-rails/paykit/core"
)

// ResolveIdentity exchanges an access token for the caller's user id via
// the realm's userinfo endpoint. An unresolvable token maps to
// core.ErrUnauthorized; transport failures map to ErrProviderUnavailable.
func (c *Client) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", fmt.Errorf("%w: empty access token", core.ErrUnauthorized)
	}
	u := c.baseURL + "/realms/" + c.realm + "/protocol/openid-connect/userinfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.plain.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: userinfo: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: userinfo rejected token", core.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: userinfo: status %s", core.ErrProviderUnavailable, resp.Status)
	}
	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decode userinfo: %v", core.ErrProviderUnavailable, err)
	}
	if info.Sub == "" {
		return "", fmt.Errorf("%w: userinfo missing subject", core.ErrUnauthorized)
	}
	return info.Sub, nil
}
