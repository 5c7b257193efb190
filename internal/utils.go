package internal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"runtime"

	"github.com/pkg/errors"
)

var ErrInvalidKey = errors.New("key must be 32 bytes")

func GetBinaryDir() string {
	if runtime.GOOS == "windows" {
		return "C:\\Cognite\\EdgeOsc"
	}
	currentDir, _ := os.Getwd()
	return currentDir
}

func newGCM(key string) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptString encrypts text with AES-256-GCM. The nonce is prepended to the ciphertext and the result is url safe base64.
func EncryptString(key, text string) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "can't generate nonce")
	}
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(text), nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func DecryptString(key, text string) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}
	data, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return "", err
	}
	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
