package pkcerest

import "golang.org/x/oauth2"

// OAuth endpoints for the hosted service. The token endpoint lives on
// the API host, not the account portal.
const (
	authURL  = "https://my.pcloud.com/oauth2/authorize"
	tokenURL = "https://api.pcloud.com/oauth2_token"
)

// OAuthConfig returns the oauth2 configuration for an installed client.
// The service issues non-expiring access tokens, so no refresh token or
// offline scope is involved.
func OAuthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
}
