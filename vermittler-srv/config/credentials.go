package config

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

const (
	credentialAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	usernameLength     = 8
	passwordLength     = 20
)

// GenerateCredentials returns a random username and password.
func GenerateCredentials() (*Credentials, error) {
	username, err := randomString(usernameLength)
	if err != nil {
		return nil, err
	}
	password, err := randomString(passwordLength)
	if err != nil {
		return nil, err
	}
	return &Credentials{Username: "user-" + username, Password: password}, nil
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(credentialAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = credentialAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// KeepGeneratedCredentials makes generated credentials live as long as the
// process. Listeners of c that generated credentials take over the generated
// credentials of the listener on the same address in prev. Credentials that
// are new after this are logged once. prev may be nil on the first load.
func (c *Config) KeepGeneratedCredentials(prev *Config) {
	previous := make(map[string]*Credentials)
	if prev != nil {
		for _, fwd := range prev.ForwardProxies {
			if fwd.GeneratedAuth && fwd.Auth != nil {
				previous[fwd.ListenAddress()] = fwd.Auth
			}
		}
	}

	for i := range c.ForwardProxies {
		fwd := &c.ForwardProxies[i]
		if !fwd.GeneratedAuth {
			continue
		}
		if creds, ok := previous[fwd.ListenAddress()]; ok {
			fwd.Auth = creds
			continue
		}
		logger.Info("Forward proxy %s requires credentials username=%s password=%s",
			fwd.ListenAddress(), fwd.Auth.Username, fwd.Auth.Password)
	}
}
