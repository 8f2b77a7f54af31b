package gdrive

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// OAuthConfig builds the oauth2 config for a registered client. The
// appdata scope grants only the app-private space, not the whole drive.
// The redirect URL is filled in by the loopback server at login time.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{drive.DriveAppdataScope},
		Endpoint:     google.Endpoint,
	}
}
