package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	b64 "encoding/base64"
	"errors"
	"io"
	"strings"
)

// ErrMalformedToken is returned when a token can not be decoded
var ErrMalformedToken = errors.New("malformed token")

const tokenSeparator = "|"

func deriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(data []byte, passphrase string) ([]byte, error) {
	gcm, err := newGCM(passphrase)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func decrypt(data []byte, passphrase string) ([]byte, error) {
	gcm, err := newGCM(passphrase)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrMalformedToken
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// EncodeAndEncrypt encrypt the string data using passphrase and base64 encode
func EncodeAndEncrypt(s, passphrase string) (string, error) {
	bytes, err := encrypt([]byte(s), passphrase)
	if err != nil {
		return "", err
	}
	return b64.URLEncoding.EncodeToString(bytes), nil
}

// DecodeAndDecrypt decode and decrypt base64 data
func DecodeAndDecrypt(s, passphrase string) (string, error) {
	sDec, err := b64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", ErrMalformedToken
	}
	bytes, err := decrypt(sDec, passphrase)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// DecisionClaim is carried by the approve/reject links mailed to ops
type DecisionClaim struct {
	SubmissionID string
	Decision     string
	Op           string
}

// EncodeDecisionToken seals a decision claim into a url safe token
func EncodeDecisionToken(claim DecisionClaim, passphrase string) (string, error) {
	return EncodeAndEncrypt(strings.Join([]string{claim.SubmissionID, claim.Decision, claim.Op}, tokenSeparator), passphrase)
}

// DecodeDecisionToken opens a token produced by EncodeDecisionToken
func DecodeDecisionToken(token, passphrase string) (DecisionClaim, error) {
	plain, err := DecodeAndDecrypt(token, passphrase)
	if err != nil {
		return DecisionClaim{}, err
	}
	parts := strings.SplitN(plain, tokenSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return DecisionClaim{}, ErrMalformedToken
	}
	return DecisionClaim{SubmissionID: parts[0], Decision: parts[1], Op: parts[2]}, nil
}
