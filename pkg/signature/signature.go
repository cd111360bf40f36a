// Package signature fingerprints command artifacts so a redeployment can be
// skipped when nothing changed.
//
// A registered command carries its fingerprint in the description, in the
// form "<signature>#<free text>".
package signature

import (
	"crypto/md5" //nolint:gosec // md5 kept for fingerprints written by older deployers
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Separator divides the signature from the description text.
const Separator = "#"

// Algorithm selects the digest used for fingerprints.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b-256"
	MD5     Algorithm = "md5"
)

// ParseAlgorithm returns the algorithm named by s, defaulting to SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE2b, "blake2b":
		return BLAKE2b, nil
	case MD5:
		return MD5, nil
	default:
		return "", fmt.Errorf("unsupported signature algorithm: %s", s)
	}
}

// Computer derives fingerprints from artifact content.
type Computer struct {
	algorithm Algorithm
	logger    *slog.Logger
}

// New returns a Computer for the given algorithm; the empty algorithm is SHA256.
func New(algorithm Algorithm) *Computer {
	if algorithm == "" {
		algorithm = SHA256
	}
	return &Computer{
		algorithm: algorithm,
		logger:    slog.Default().With("component", "signature"),
	}
}

func (c *Computer) Algorithm() Algorithm { return c.algorithm }

func (c *Computer) newHash() (hash.Hash, error) {
	switch c.algorithm {
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	case MD5:
		return md5.New(), nil //nolint:gosec // see import
	default:
		return nil, fmt.Errorf("unsupported signature algorithm: %s", c.algorithm)
	}
}

// Compute hashes everything read from r and returns the lowercase hex digest.
func (c *Computer) Compute(r io.Reader) (string, error) {
	h, err := c.newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ForFile fingerprints the file at path. When the content cannot be read the
// fingerprint degrades to "date_<mtime millis>", or "date_0" if the file is
// missing, so a broken artifact still yields a comparable value.
func (c *Computer) ForFile(path string) string {
	sig, err := c.hashFile(path)
	if err == nil {
		return sig
	}
	fallback := Timestamp(path)
	c.logger.Warn("artifact hash failed, using timestamp signature",
		"path", path,
		"signature", fallback,
		"error", err,
	)
	return fallback
}

func (c *Computer) hashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the command descriptor
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return c.Compute(f)
}

// Timestamp returns the modification-time signature of path.
func Timestamp(path string) string {
	var millis int64
	if info, err := os.Stat(path); err == nil {
		millis = info.ModTime().UnixMilli()
	}
	return "date_" + strconv.FormatInt(millis, 10)
}

// Split returns the signature portion of a registered description: the text
// before the first separator, or "" when there is none.
func Split(description string) string {
	sig, _, found := strings.Cut(description, Separator)
	if !found {
		return ""
	}
	return sig
}

// Join builds a registered description from a signature and free text.
func Join(signature, text string) string {
	return signature + Separator + text
}
