package proxy

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/codefionn/vermittler/vermittler-srv/config"
)

// parseProxyAuthorization decodes a "Basic base64(user:pass)" header value.
func parseProxyAuthorization(value string) (username, password string, ok bool) {
	scheme, encoded, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

// authorized reports whether r carries the expected proxy credentials.
func authorized(r *http.Request, expected *config.Credentials) bool {
	if expected == nil {
		return true
	}
	username, password, ok := parseProxyAuthorization(r.Header.Get("Proxy-Authorization"))
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(expected.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(expected.Password)) == 1
	return userOK && passOK
}

// basicAuthValue builds a Basic Proxy-Authorization value.
func basicAuthValue(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
