// Package credstore persists login credentials keyed by account id. Blobs
// are fernet-encrypted at rest; writes are first-write-wins so a relogin
// racing a concurrent login can never clobber a known-working credential.
package credstore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/zalogate/zalogate/internal/crypto"
	"github.com/zalogate/zalogate/internal/database"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Read returns the decrypted credential blob for an account, with ok=false
// when none is stored.
func (s *Store) Read(accountID string) ([]byte, bool, error) {
	var row database.Credential
	err := s.db.Where("account_id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read credential %s: %w", accountID, err)
	}
	blob, err := crypto.Decrypt(row.Blob)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt credential %s: %w", accountID, err)
	}
	return blob, true, nil
}

// WriteIfAbsent stores a credential unless one already exists for the
// account. Returns true if the blob was written.
func (s *Store) WriteIfAbsent(accountID string, blob []byte, phone string) (bool, error) {
	var count int64
	if err := s.db.Model(&database.Credential{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check credential %s: %w", accountID, err)
	}
	if count > 0 {
		return false, nil
	}
	enc, err := crypto.Encrypt(blob)
	if err != nil {
		return false, fmt.Errorf("encrypt credential %s: %w", accountID, err)
	}
	if err := s.db.Create(&database.Credential{AccountID: accountID, Blob: enc, Phone: phone}).Error; err != nil {
		return false, fmt.Errorf("write credential %s: %w", accountID, err)
	}
	return true, nil
}

func (s *Store) Delete(accountID string) error {
	return s.db.Where("account_id = ?", accountID).Delete(&database.Credential{}).Error
}

// ListKeys returns all stored account ids in insertion order.
func (s *Store) ListKeys() ([]string, error) {
	var rows []database.Credential
	if err := s.db.Order("created_at, account_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.AccountID
	}
	return keys, nil
}
