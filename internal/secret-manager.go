package internal

import (
	"os"

	"github.com/pkg/errors"
)

// SecretManager resolves camera passwords. Secrets are kept decrypted in memory and stored AES-GCM encrypted in the config file.
type SecretManager struct {
	Key     string
	Secrets map[string]string
}

func NewSecretManager(key string) *SecretManager {
	return &SecretManager{Key: key, Secrets: map[string]string{}}
}

// LoadEncryptedSecrets decrypts secrets and adds them to the store. Secrets that can't be decrypted are skipped and reported.
func (sm *SecretManager) LoadEncryptedSecrets(secrets map[string]string) error {
	var failed []string
	for k, v := range secrets {
		plain, err := DecryptString(sm.Key, v)
		if err != nil {
			failed = append(failed, k)
			continue
		}
		sm.Secrets[k] = plain
	}
	if len(failed) > 0 {
		return errors.Errorf("failed to decrypt secrets %v", failed)
	}
	return nil
}

// LoadSecrets adds plain text secrets to the store.
func (sm *SecretManager) LoadSecrets(secrets map[string]string) {
	for k, v := range secrets {
		sm.Secrets[k] = v
	}
}

// GetSecret returns the secret from the store, then from the environment variable named key.
// When neither exists key itself is treated as the plain text secret.
func (sm *SecretManager) GetSecret(key string) string {
	if secret, ok := sm.Secrets[key]; ok {
		return secret
	}
	if secret := os.Getenv(key); secret != "" {
		return secret
	}
	return key
}

func (sm *SecretManager) GetEncryptedSecrets() (map[string]string, error) {
	encrypted := map[string]string{}
	for k, v := range sm.Secrets {
		enc, err := EncryptString(sm.Key, v)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encrypt secret %s", k)
		}
		encrypted[k] = enc
	}
	return encrypted, nil
}
