// Package wallet persists a peer's identity secret to disk, encrypted under
// a password, so a node keeps the same X25519 key across restarts. Only the
// secret is stored; the mined salt and address are not.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveSecret encrypts an identity's 32-byte X25519 static secret under
// password and writes it to path.
func SaveSecret(path, password string, secret [32]byte) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, secret[:], nil)

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &secret)

	ks := keystoreFile{
		PubKey:     hex.EncodeToString(pub[:]),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadSecret decrypts the keystore at path using password and returns the
// 32-byte X25519 static secret it holds.
func LoadSecret(path, password string) ([32]byte, error) {
	var secret [32]byte

	data, err := os.ReadFile(path)
	if err != nil {
		return secret, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return secret, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return secret, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return secret, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return secret, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return secret, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return secret, err
	}
	plain, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return secret, errors.New("wrong password or corrupted keystore")
	}
	if len(plain) != 32 {
		return secret, errors.New("keystore: decrypted secret has wrong length")
	}
	copy(secret[:], plain)
	return secret, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
