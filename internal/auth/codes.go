package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrCodeRejected indicates an authorization code did not match any known credential.
var ErrCodeRejected = errors.New("auth: authorization code rejected")

// CodeValidator checks a dual-authorization code entered into a slot and
// returns the identity that owns it.
type CodeValidator interface {
	ValidateToken(ctx context.Context, slot, token string) (string, error)
}

// HashCode hashes a plaintext authorization code with bcrypt.
func HashCode(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("code is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CodeEntry is one credential in a CodeBook.
type CodeEntry struct {
	Identity string `yaml:"identity"`
	Slot     string `yaml:"slot,omitempty"`
	Hash     string `yaml:"hash"`
}

// CodeBook validates codes against bcrypt hashes. Entries with an empty slot
// are accepted in either slot.
type CodeBook struct {
	entries []CodeEntry
}

// NewCodeBook validates entries and returns a CodeBook.
func NewCodeBook(entries []CodeEntry) (*CodeBook, error) {
	out := make([]CodeEntry, 0, len(entries))
	for i, e := range entries {
		e.Identity = strings.TrimSpace(e.Identity)
		e.Slot = strings.ToUpper(strings.TrimSpace(e.Slot))
		e.Hash = strings.TrimSpace(e.Hash)
		if e.Identity == "" || e.Hash == "" {
			return nil, fmt.Errorf("%w: code entry %d needs identity and hash", ErrInvalidInput, i)
		}
		if _, err := bcrypt.Cost([]byte(e.Hash)); err != nil {
			return nil, fmt.Errorf("%w: code entry %s: %v", ErrInvalidInput, e.Identity, err)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: code book is empty", ErrInvalidInput)
	}
	return &CodeBook{entries: out}, nil
}

// LoadCodeBook reads `codes: [{identity, slot, hash}]` YAML.
func LoadCodeBook(r io.Reader) (*CodeBook, error) {
	var file struct {
		Codes []CodeEntry `yaml:"codes"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode code book: %v", ErrInvalidInput, err)
	}
	return NewCodeBook(file.Codes)
}

// LoadCodeBookFile reads a code book from disk.
func LoadCodeBookFile(path string) (*CodeBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code book: %w", err)
	}
	return LoadCodeBook(bytes.NewReader(data))
}

// ValidateToken implements CodeValidator.
func (b *CodeBook) ValidateToken(ctx context.Context, slot, token string) (string, error) {
	slot = strings.ToUpper(strings.TrimSpace(slot))
	for _, e := range b.entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if e.Slot != "" && e.Slot != slot {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(token)) == nil {
			return e.Identity, nil
		}
	}
	return "", ErrCodeRejected
}
