package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
)

const (
	// envelopeKey is the only variable left in a stored session.
	envelopeKey = "__encrypted__"
	// inputPrefix marks an encrypted user input in history.
	inputPrefix = "enc:"
)

// ErrKeySize is returned for keys that are not 32 bytes.
var ErrKeySize = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// ParseKey decodes a base64 AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	return key, nil
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts session variables and
// user inputs at rest using AES-GCM. Routing fields (status, pointer, correlation
// key) stay in clear so the store can index them.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic(ErrKeySize.Error())
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Commit(ctx context.Context, c ports.TurnCommit) error {
	// 1. Seal the variables into an opaque envelope
	plainText, err := json.Marshal(c.Session.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	sealed, err := m.seal(plainText)
	if err != nil {
		return fmt.Errorf("failed to encrypt variables: %w", err)
	}
	envelope := c.Session.Clone()
	envelope.Variables = domain.Variables{envelopeKey: sealed}

	// 2. Seal user inputs, leave bot output readable
	entries := make([]domain.HistoryEntry, len(c.Entries))
	for i, e := range c.Entries {
		if in, ok := e.Payload.(domain.UserInputPayload); ok {
			sealed, err := m.seal([]byte(in.Text))
			if err != nil {
				return fmt.Errorf("failed to encrypt history: %w", err)
			}
			e.Payload = domain.UserInputPayload{Text: inputPrefix + sealed}
		}
		entries[i] = e
	}

	return m.next.Commit(ctx, ports.TurnCommit{
		Session:      envelope,
		ExpectedTurn: c.ExpectedTurn,
		Entries:      entries,
	})
}

func (m *encryptionMiddleware) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	return m.open(m.next.FindByKey(ctx, key))
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.open(m.next.Load(ctx, sessionID))
}

func (m *encryptionMiddleware) FindByCorrelation(ctx context.Context, correlationKey string) (*domain.Session, error) {
	return m.open(m.next.FindByCorrelation(ctx, correlationKey))
}

func (m *encryptionMiddleware) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	entries, err := m.next.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, len(entries))
	for i, e := range entries {
		if in, ok := e.Payload.(domain.UserInputPayload); ok && strings.HasPrefix(in.Text, inputPrefix) {
			plain, err := m.unseal(strings.TrimPrefix(in.Text, inputPrefix))
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt history entry %d: %w", i, err)
			}
			e.Payload = domain.UserInputPayload{Text: string(plain)}
		}
		out[i] = e
	}
	return out, nil
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) open(sess *domain.Session, err error) (*domain.Session, error) {
	if err != nil {
		return nil, err
	}

	sealed, ok := sess.Variables[envelopeKey]
	if !ok || len(sess.Variables) != 1 {
		// Fail secure: a configured key means every session is expected to be sealed.
		return nil, errors.New("session is missing encrypted data envelope")
	}

	plainText, err := m.unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}

	vars := make(domain.Variables)
	if err := json.Unmarshal(plainText, &vars); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted variables: %w", err)
	}
	out := sess.Clone()
	out.Variables = vars
	return out, nil
}

func (m *encryptionMiddleware) seal(plainText []byte) (string, error) {
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) unseal(s string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	return decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
