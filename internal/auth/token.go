// Package auth builds the short-lived bearer tokens the model API expects.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredentialFormat is returned when an API key is not of the form
// "identifier.secret".
var ErrInvalidCredentialFormat = errors.New("invalid api key: expected <id>.<secret>")

// SignType is the marker the API requires in the token header.
const SignType = "SIGN"

// Credential is an API key split into its two halves.
type Credential struct {
	ID     string
	Secret string
}

// ParseCredential splits apiKey on its single '.' separator.
func ParseCredential(apiKey string) (Credential, error) {
	parts := strings.Split(apiKey, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Credential{}, ErrInvalidCredentialFormat
	}
	return Credential{ID: parts[0], Secret: parts[1]}, nil
}

// GenerateToken signs a token for apiKey that expires expSeconds from now.
func GenerateToken(apiKey string, expSeconds int64) (string, error) {
	return GenerateTokenAt(apiKey, expSeconds, time.Now())
}

// GenerateTokenAt is GenerateToken with an explicit issue time. Identical
// inputs always produce the identical token.
func GenerateTokenAt(apiKey string, expSeconds int64, now time.Time) (string, error) {
	cred, err := ParseCredential(apiKey)
	if err != nil {
		return "", err
	}

	issued := now.UnixMilli()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   cred.ID,
		"exp":       issued + expSeconds*1000,
		"timestamp": issued,
	})
	token.Header["sign_type"] = SignType

	return token.SignedString([]byte(cred.Secret))
}
