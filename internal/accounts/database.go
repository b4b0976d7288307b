// Package accounts persists connected broker accounts and their credentials.
package accounts

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateAccount persists a new account link and assigns its internal id.
func (d *Database) CreateAccount(account *ConnectedAccount) error {
	if account.AccountID == "" {
		account.AccountID = "ACC_" + uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	return d.db.Create(account).Error
}

// GetAccount retrieves an account by its internal id, (nil, nil) on miss.
func (d *Database) GetAccount(accountID string) (*ConnectedAccount, error) {
	var account ConnectedAccount
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountsByUser lists all account links for a user.
func (d *Database) GetAccountsByUser(userID string) ([]ConnectedAccount, error) {
	var list []ConnectedAccount
	if err := d.db.Where("user_id = ?", userID).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateAccount saves changed fields on an existing account record.
func (d *Database) UpdateAccount(account *ConnectedAccount) error {
	account.UpdatedAt = time.Now()
	return d.db.Save(account).Error
}

// GetCredentials returns the decrypted credential payload for an account.
func (d *Database) GetCredentials(accountID string) (brokers.Credentials, error) {
	account, err := d.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	var creds brokers.Credentials
	if err := json.Unmarshal([]byte(account.CredentialsJSON), &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// SetCredentials serializes and stores the credential payload on an account.
func (d *Database) SetCredentials(account *ConnectedAccount, creds brokers.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	account.CredentialsJSON = string(data)
	return d.UpdateAccount(account)
}

// FindPendingOAuth is the fallback lookup for OAuth callbacks whose state
// token is missing or already consumed: it scans persisted accounts for a
// PENDING_OAUTH row matching (user, broker). When several pending flows
// exist for the same pair the match is ambiguous; the most recent row wins
// and the ambiguity is flagged rather than silently resolved.
func (d *Database) FindPendingOAuth(userID, brokerName string) (*ConnectedAccount, error) {
	var list []ConnectedAccount
	err := d.db.
		Where("user_id = ? AND broker_name = ? AND status = ?", userID, brokerName, StatusPendingOAuth).
		Order("updated_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	if len(list) > 1 {
		log.Warn().
			Str("user_id", userID).
			Str("broker_name", brokerName).
			Int("pending_count", len(list)).
			Msg("multiple pending oauth accounts match; using most recent (best effort)")
	}
	return &list[0], nil
}
