// Package filerepo persists the session as a single sealed JSON document so a
// restarted console can restore it.
package filerepo

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/sessions"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	fileName = "session.json.sealed"
	keyInfo  = "kb-console session v1"
)

var _ sessions.Repo = (*Repo)(nil)

// Repo stores the session at <folder>/session.json.sealed, encrypted with
// XChaCha20-Poly1305 under a key derived from the configured secret.
type Repo struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

func New(folder string, secret []byte) (*Repo, error) {
	if len(secret) == 0 {
		return nil, errors.New("[filerepo New] secret is required")
	}
	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, fmt.Errorf("[filerepo New] create folder: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("[filerepo New] derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("[filerepo New] cipher: %w", err)
	}

	return &Repo{
		path: filepath.Join(folder, fileName),
		aead: aead,
	}, nil
}

// Load returns ErrSessionNotFound when nothing is stored or when the stored
// document cannot be opened (corrupt, or sealed under another secret).
func (r *Repo) Load(_ context.Context) (*sessions.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sealed, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[filerepo Load] read: %w", err)
	}

	nonceSize := r.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: sealed session truncated", apperrors.ErrSessionNotFound)
	}
	plain, err := r.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open sealed session: %v", apperrors.ErrSessionNotFound, err)
	}

	var session sessions.Session
	if err := json.Unmarshal(plain, &session); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", apperrors.ErrSessionNotFound, err)
	}
	return &session, nil
}

// Save writes atomically: a temp file in the same folder is renamed over the
// previous document.
func (r *Repo) Save(_ context.Context, session *sessions.Session) error {
	if session == nil {
		return errors.New("[filerepo Save] session cannot be nil")
	}
	plain, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[filerepo Save] encode: %w", err)
	}

	nonce := make([]byte, r.aead.NonceSize(), r.aead.NonceSize()+len(plain)+r.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("[filerepo Save] nonce: %w", err)
	}
	sealed := r.aead.Seal(nonce, nonce, plain, nil)

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(r.path), fileName+".*")
	if err != nil {
		return fmt.Errorf("[filerepo Save] temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("[filerepo Save] write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[filerepo Save] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filerepo Save] close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("[filerepo Save] rename: %w", err)
	}
	return nil
}

func (r *Repo) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("[filerepo Clear] remove: %w", err)
	}
	return nil
}
