package pathutil

import (
	"net/url"
	"path"
	"strings"

	"github.com/javi11/docvault/internal/errors"
)

// DefaultType is assigned to documents stored at the root of the remote tree.
const DefaultType = "AUTRE"

const doubledExt = ".pdf.pdf"

// NormalizeKey turns a relative document path into its cache key form:
// forward slashes, no leading "./" or "/", and a doubled ".pdf.pdf"
// suffix reduced to ".pdf".
func NormalizeKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	for strings.HasPrefix(key, "./") {
		key = key[2:]
	}
	if strings.HasSuffix(strings.ToLower(key), doubledExt) {
		key = key[:len(key)-len(".pdf")]
	}
	return key
}

// ValidateKey rejects keys that could resolve outside the cache root.
func ValidateKey(key string) error {
	if key == "" {
		return errors.ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return errors.ErrInvalidKey
	}
	// C:foo, C:\foo
	if len(key) >= 2 && key[1] == ':' {
		return errors.ErrInvalidKey
	}
	if strings.ContainsRune(key, 0) {
		return errors.ErrInvalidKey
	}
	for _, seg := range strings.Split(strings.ReplaceAll(key, "\\", "/"), "/") {
		if seg == ".." {
			return errors.ErrInvalidKey
		}
	}
	return nil
}

// CleanKey normalizes and validates a key in one step.
func CleanKey(key string) (string, error) {
	key = NormalizeKey(key)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	key = path.Clean(key)
	if key == "." {
		return "", errors.ErrInvalidKey
	}
	return key, nil
}

// KeyFromURLPath decodes a wildcard route parameter into a clean key.
func KeyFromURLPath(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", errors.ErrInvalidKey
	}
	return CleanKey(decoded)
}

// DocumentType returns the first path segment of relpath, or DefaultType
// for documents at the root.
func DocumentType(relpath string) string {
	first, _, found := strings.Cut(relpath, "/")
	if !found || first == "" {
		return DefaultType
	}
	return first
}

// JoinKey builds the relative path of a child entry under prefix.
func JoinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
