package config

import (
	"errors"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a named secret is not available.
var ErrSecretNotFound = errors.New("secret not found")

// Secrets resolves provider credentials by logical secret name. Callers that
// can operate without a credential should treat ErrSecretNotFound as "disable
// this provider" rather than a fatal condition.
type Secrets interface {
	Get(name string) (string, error)
}

// EnvSecrets resolves secrets from environment variables. The logical name
// "hosted-api-key" maps to GANTRY_SECRET_HOSTED_API_KEY.
type EnvSecrets struct{}

func (EnvSecrets) Get(name string) (string, error) {
	env := "GANTRY_SECRET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}

// StaticSecrets serves secrets from a fixed map. Used by tests.
type StaticSecrets map[string]string

func (s StaticSecrets) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}
