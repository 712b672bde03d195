// Package crypto manages the libp2p identity key of the node
package crypto

import (
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

const pemType = "LIBP2P PRIVATE KEY"

var ErrInvalidKey = errors.New("invalid key")

// GenerateKey generates a new Ed25519 identity key
func GenerateKey() (p2pcrypto.PrivKey, error) {
	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	return priv, err
}

// ExportKeyPEM exports a private key to PEM format
func ExportKeyPEM(key p2pcrypto.PrivKey) ([]byte, error) {
	der, err := p2pcrypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  pemType,
		Bytes: der,
	}), nil
}

// ImportKeyPEM imports a private key from PEM format
func ImportKeyPEM(pemData []byte) (p2pcrypto.PrivKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != pemType {
		return nil, ErrInvalidKey
	}

	key, err := p2pcrypto.UnmarshalPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// SaveKeyToFile saves a PEM encoded key to file
func SaveKeyToFile(filename string, pemData []byte) error {
	return os.WriteFile(filename, pemData, 0600)
}

// LoadKeyFromFile loads a PEM encoded key from file
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// LoadOrGenerate loads the key at path, generating and saving a new one
// when the file does not exist. created reports a new key.
func LoadOrGenerate(path string) (key p2pcrypto.PrivKey, created bool, err error) {
	pemData, err := LoadKeyFromFile(path)
	if err == nil {
		key, err = ImportKeyPEM(pemData)
		return key, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	if key, err = GenerateKey(); err != nil {
		return nil, false, err
	}
	if pemData, err = ExportKeyPEM(key); err != nil {
		return nil, false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, err
	}
	if err := SaveKeyToFile(path, pemData); err != nil {
		return nil, false, err
	}

	return key, true, nil
}
