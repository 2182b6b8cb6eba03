// Package secrets declares the narrow interface this core consumes from the
// vault/keychain subsystem (spec.md §1, explicitly out of scope beyond this
// interface).
package secrets

import "github.com/hybridcore/inference-core/internal/config"

// Store resolves a per-provider API credential. The concrete vault/keychain
// implementation lives outside this core; callers inject a Store.
type Store interface {
	CredentialFor(provider config.Provider) (token string, ok bool)
}

// EnvStore is a minimal Store reading credentials from the process
// environment, used by the demo binary and in tests. It is not a
// production secret store.
type EnvStore struct {
	env map[config.Provider]string
}

func NewEnvStore(env map[config.Provider]string) *EnvStore {
	return &EnvStore{env: env}
}

func (s *EnvStore) CredentialFor(provider config.Provider) (string, bool) {
	token, ok := s.env[provider]
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
