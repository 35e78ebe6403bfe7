// Package storage keeps the payment proofs players attach to deposits.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const MaxProofSize = 5 << 20

var (
	ErrProofTooLarge   = errors.New("proof file too large")
	ErrProofType       = errors.New("proof must be an image or pdf")
	ErrProofEmpty      = errors.New("proof file is empty")
	ErrInvalidProofRef = errors.New("invalid proof reference")
)

var allowedTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ProofStore writes proofs below a base directory. Stored references are
// file names relative to that directory.
type ProofStore struct {
	dir string
}

func NewProofStore(dir string) (*ProofStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ProofStore{dir: dir}, nil
}

// Save sniffs the content type, stores the file under a fresh name and
// returns its reference.
func (s *ProofStore) Save(ctx context.Context, r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if n == 0 {
		return "", ErrProofEmpty
	}
	head = head[:n]
	ext, ok := allowedTypes[http.DetectContentType(head)]
	if !ok {
		return "", ErrProofType
	}
	// the client may have gone away while the head was read
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := uuid.NewString() + ext
	path := filepath.Join(s.dir, ref)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), io.LimitReader(r, MaxProofSize-int64(n)+1)))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written > MaxProofSize {
		err = ErrProofTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return ref, nil
}

// Open returns the stored proof for operator review.
func (s *ProofStore) Open(ref string) (*os.File, error) {
	if !validRef(ref) {
		return nil, ErrInvalidProofRef
	}
	return os.Open(filepath.Join(s.dir, ref))
}

// Remove deletes a proof whose deposit was never recorded. A missing file
// is not an error.
func (s *ProofStore) Remove(ref string) error {
	if !validRef(ref) {
		return ErrInvalidProofRef
	}
	err := os.Remove(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func validRef(ref string) bool {
	return ref != "" && ref == filepath.Base(ref)
}
