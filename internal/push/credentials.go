package push

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	oauthjwt "golang.org/x/oauth2/jwt"
)

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// ServiceAccount is the subset of a Google service account key used for FCM.
type ServiceAccount struct {
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
}

// ParseServiceAccount decodes a service account JSON key.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("service account: client_email and private_key are required")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	// parsed up front so a broken key fails at startup, not on the first send
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("service account private key: %w", err)
	}
	sa.key = key
	return &sa, nil
}

// tokenConfig describes the two-legged JWT-bearer exchange for the messaging scope.
// The assertion is signed RS256 with the key id in its header.
func (sa *ServiceAccount) tokenConfig() *oauthjwt.Config {
	return &oauthjwt.Config{
		Email:        sa.ClientEmail,
		PrivateKey:   []byte(sa.PrivateKey),
		PrivateKeyID: sa.PrivateKeyID,
		Scopes:       []string{messagingScope},
		TokenURL:     sa.TokenURI,
	}
}

// LoadServiceAccount reads the key from a base64 string or, when that is empty, from path.
// It returns nil without error when neither is set.
func LoadServiceAccount(base64Key, path string) (*ServiceAccount, error) {
	switch {
	case strings.TrimSpace(base64Key) != "":
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
		if err != nil {
			return nil, fmt.Errorf("service account key: %w", err)
		}
		return ParseServiceAccount(raw)
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("service account file: %w", err)
		}
		return ParseServiceAccount(raw)
	}
	return nil, nil
}
