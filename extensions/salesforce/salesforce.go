package salesforce

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultHostSuffix matches the Salesforce instances and login hosts
const DefaultHostSuffix = "salesforce.com"

// StaticTokenAuthenticator adds your Salesforce Access Token to the
// long-polling requests sent to Salesforce hosts
type StaticTokenAuthenticator struct {
	// Token is the string obtained either from the Salesforce CX CLI (for
	// example). You can also retrieve this by using the curl command on
	// https://developer.salesforce.com/docs/atlas.en-us.api_iot.meta/api_iot/qs_auth_access_token.htm
	Token string
	// HostSuffix restricts the token to hosts ending with it. Empty means
	// DefaultHostSuffix.
	HostSuffix string
	// Transport is any http transport that satisfies the http.RoundTripper
	// interface. Empty means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewStaticTokenAuthenticator wraps transport so requests to Salesforce
// carry token
func NewStaticTokenAuthenticator(token string, transport http.RoundTripper) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{Token: token, Transport: transport}
}

// RoundTrip implements the RoundTripper interface
func (t *StaticTokenAuthenticator) RoundTrip(request *http.Request) (*http.Response, error) {
	if !strings.HasSuffix(request.URL.Hostname(), t.hostSuffix()) {
		return t.transport().RoundTrip(request)
	}
	if t.Token == "" {
		return nil, errors.New("no Token provided to authenticator transport")
	}

	newRequest := request.Clone(request.Context())
	newRequest.Header.Set("Authorization", "Bearer "+t.Token)
	return t.transport().RoundTrip(newRequest)
}

func (t *StaticTokenAuthenticator) hostSuffix() string {
	if t.HostSuffix == "" {
		return DefaultHostSuffix
	}
	return t.HostSuffix
}

func (t *StaticTokenAuthenticator) transport() http.RoundTripper {
	if t.Transport == nil {
		return http.DefaultTransport
	}
	return t.Transport
}
