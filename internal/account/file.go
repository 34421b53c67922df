// file.go - Account files: the JSON artifact for moving full accounts
// between tools.
//
// Files never embed a derivation seed. A new account's seed is supplied
// out of band by whoever rebuilds it; key material may travel with the
// file so a wallet can sign for the account.

package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"notechain/internal/asset"
	"notechain/internal/crypto"
)

// ErrSeedMissing is returned when rebuilding a new account without
// supplying its seed.
var ErrSeedMissing = errors.New("account: rebuilding a new account requires its seed")

// File is the serialized form of a full account.
type File struct {
	ID        ID            `json:"id"`
	Nonce     uint64        `json:"nonce"`
	Assets    []asset.Asset `json:"assets"`
	Storage   *Storage      `json:"storage"`
	Code      *Code         `json:"code"`
	SecretKey []byte        `json:"secret_key,omitempty"`
}

// NewFile captures an account into its file form, optionally attaching
// signing key material.
func NewFile(a *Account, secretKey *SecretKey) *File {
	f := &File{
		ID:      a.ID(),
		Nonce:   a.Nonce(),
		Assets:  a.Vault().Assets(),
		Storage: a.Storage().Clone(),
		Code:    a.Code().Clone(),
	}
	if secretKey != nil {
		f.SecretKey = secretKey.Bytes()
	}
	return f
}

// Account rebuilds an existing account from the file.
func (f *File) Account() (*Account, error) {
	if f.Nonce == 0 {
		return nil, ErrSeedMissing
	}
	vault, err := asset.NewVault(f.Assets)
	if err != nil {
		return nil, fmt.Errorf("account: rebuilding vault: %w", err)
	}
	return NewExisting(f.ID, vault, f.Storage, f.Code, f.Nonce)
}

// AccountWithSeed rebuilds a new account, validating the supplied seed
// against the file's ID.
func (f *File) AccountWithSeed(seed crypto.Word) (*Account, error) {
	if f.Nonce != 0 {
		return nil, ErrSeedForbidden
	}
	vault, err := asset.NewVault(f.Assets)
	if err != nil {
		return nil, fmt.Errorf("account: rebuilding vault: %w", err)
	}
	return New(f.ID, seed, vault, f.Storage, f.Code)
}

// Key restores the attached signing key, if any.
func (f *File) Key() (*SecretKey, error) {
	if len(f.SecretKey) == 0 {
		return nil, errors.New("account: file carries no key material")
	}
	return SecretKeyFromBytes(f.SecretKey)
}

// Write saves the file as JSON.
func (f *File) Write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("account: encoding account file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("account: writing account file: %w", err)
	}
	return nil
}

// ReadFile loads an account file from disk.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("account: reading account file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("account: decoding account file: %w", err)
	}
	return &f, nil
}
