package graphdrive

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Scopes requested from the Microsoft identity platform. AppFolder
// grants only the app-private container, not the whole drive.
var defaultScopes = []string{
	"offline_access",
	"Files.ReadWrite.AppFolder",
}

// OAuthConfig builds the oauth2 config for a registered public client.
// The redirect URL is filled in by the loopback server at login time.
func OAuthConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   defaultScopes,
		Endpoint: microsoft.AzureADEndpoint("common"),
	}
}
