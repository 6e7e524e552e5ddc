package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const keyTimeLayout = "20060102T150405.000000000Z"

// NewKey derives a storage key from the submission time and a random id. Only
// the extension of suggestedName is kept, so identical names never collide.
func NewKey(now time.Time, suggestedName string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(suggestedName)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("%s_%s%s", now.UTC().Format(keyTimeLayout), uuid.NewString(), ext)
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("empty storage key")
	case strings.ContainsAny(key, `/\`), strings.Contains(key, ".."):
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}
