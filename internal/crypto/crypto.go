// Package crypto encrypts refresh tokens before they reach the credential
// store.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor encrypts and decrypts short secret strings.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSEncryptor implements Encryptor using AWS KMS.
type KMSEncryptor struct {
	client *kms.Client
	keyID  string
}

// NewKMSEncryptor creates a KMSEncryptor. keyID can be a key ID, key ARN, or
// alias name (e.g. "alias/drivebridge-credential-key").
func NewKMSEncryptor(client *kms.Client, keyID string) *KMSEncryptor {
	return &KMSEncryptor{client: client, keyID: keyID}
}

// Encrypt encrypts plaintext under the configured key and returns the
// ciphertext base64 encoded.
func (e *KMSEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := e.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(e.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt decodes and decrypts a ciphertext produced by Encrypt.
func (e *KMSEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	result, err := e.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(e.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}
	return string(result.Plaintext), nil
}
