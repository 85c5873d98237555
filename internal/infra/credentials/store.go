package credentials

import (
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"toolgate/internal/domain"
)

var credentialBucket = []byte("credentials")

// Encryptor is the opaque at-rest encryption collaborator. The store never
// interprets the ciphertext it produces.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PlainEncryptor passes secrets through unchanged. Deployments provide a
// real implementation; tests and local runs use this one.
type PlainEncryptor struct{}

func (PlainEncryptor) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (PlainEncryptor) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

type storedCredentials struct {
	AccountID       string `json:"accountId"`
	Username        string `json:"username"`
	EncryptedSecret string `json:"encryptedSecret"`
	ProfileLabel    string `json:"profileLabel,omitempty"`
}

// Store persists one credential profile per user.
type Store struct {
	db        *bolt.DB
	encryptor Encryptor
}

func NewStore(db *bolt.DB, encryptor Encryptor) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if encryptor == nil {
		encryptor = PlainEncryptor{}
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure credential bucket: %w", err)
	}
	return &Store{db: db, encryptor: encryptor}, nil
}

// Save replaces the user's profile, encrypting the secret at rest.
func (s *Store) Save(userID string, creds domain.Credentials) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	encrypted, err := s.encryptor.Encrypt(creds.Secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	record, err := json.Marshal(storedCredentials{
		AccountID:       creds.AccountID,
		Username:        creds.Username,
		EncryptedSecret: encrypted,
		ProfileLabel:    creds.ProfileLabel,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Put([]byte(userID), record)
	})
}

// Get returns the user's profile with the secret decrypted, or
// domain.ErrCredentialsNotFound.
func (s *Store) Get(userID string) (domain.Credentials, error) {
	var record storedCredentials
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(credentialBucket).Get([]byte(userID))
		if raw == nil {
			return domain.ErrCredentialsNotFound
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return domain.Credentials{}, err
	}
	secret, err := s.encryptor.Decrypt(record.EncryptedSecret)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("decrypt secret: %w", err)
	}
	return domain.Credentials{
		AccountID:    record.AccountID,
		Username:     record.Username,
		Secret:       secret,
		ProfileLabel: record.ProfileLabel,
	}, nil
}

// Delete removes the user's profile. Deleting an absent profile is a no-op.
func (s *Store) Delete(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Delete([]byte(userID))
	})
}
