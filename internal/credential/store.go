package credential

import (
	"encoding/json"
	"fmt"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

// Store converts account configuration to and from its encrypted form.
// Plaintext configuration only ever exists in memory.
type Store struct {
	cipher *Cipher
}

// NewStore returns a Store sealing with c.
func NewStore(c *Cipher) *Store {
	return &Store{cipher: c}
}

// Seal encrypts cfg.
func (s *Store) Seal(cfg model.AccountConfig) (string, error) {
	plain, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding account config: %w", err)
	}
	blob, err := s.cipher.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("encrypting account config: %w", err)
	}
	return blob, nil
}

// Open decrypts a blob produced by Seal.
func (s *Store) Open(blob string) (model.AccountConfig, error) {
	var cfg model.AccountConfig
	plain, err := s.cipher.Decrypt(blob)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(plain, &cfg); err != nil {
		return cfg, apperr.Wrap(apperr.Decryption, err, "decoding account config")
	}
	return cfg, nil
}

// Reseal opens blob, applies fn to the configuration and seals the result.
func (s *Store) Reseal(blob string, fn func(cfg *model.AccountConfig) error) (string, error) {
	cfg, err := s.Open(blob)
	if err != nil {
		return "", err
	}
	if err := fn(&cfg); err != nil {
		return "", err
	}
	return s.Seal(cfg)
}
