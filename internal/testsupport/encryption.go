package testsupport

import "strings"

// FakeEncryptionService is a reversible, non-cryptographic stand-in for
// crypto.EncryptionService, used where tests need deterministic output
// rather than real confidentiality.
type FakeEncryptionService struct{}

// NewFakeEncryptionService constructs a FakeEncryptionService.
func NewFakeEncryptionService() *FakeEncryptionService { return &FakeEncryptionService{} }

// Encrypt implements crypto.EncryptionService with a reversible marker prefix.
func (FakeEncryptionService) Encrypt(plaintext string) (string, error) {
	return "fake-enc:" + plaintext, nil
}

// Decrypt implements crypto.EncryptionService, reversing Encrypt.
func (FakeEncryptionService) Decrypt(ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "fake-enc:"), nil
}

// Hash implements crypto.EncryptionService with a deterministic, non-secure marker.
func (FakeEncryptionService) Hash(plaintext string) string {
	return "fake-hash:" + plaintext
}
