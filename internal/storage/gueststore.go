// Package storage persists guest usage records onto the local filesystem.
// Guest identities have no backend row; their records live here only, scoped
// to the device running the service.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"keisha/internal/domain"
)

// GuestStore is a file-per-identity UsageStore rooted at a base path.
type GuestStore struct {
	basePath string
	logger   zerolog.Logger
}

// NewGuestStore initializes a GuestStore rooted at basePath.
func NewGuestStore(basePath string, logger zerolog.Logger) (*GuestStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &GuestStore{basePath: basePath, logger: logger}, nil
}

// BasePath returns the configured root directory.
func (s *GuestStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Load reads the identity's record. A missing file is not an error: a fresh
// default record is returned instead. An unreadable or unparsable file is
// logged and likewise replaced by a default, which the caller's validation
// treats as zero remaining until reinitialized.
func (s *GuestStore) Load(ctx context.Context, identity domain.Identity, today string) (domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.UsageRecord{}, err
	}
	path, err := s.recordPath(identity)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("identity_id", identity.ID).Msg("read guest record failed, using default")
		}
		return domain.NewUsageRecord(identity, today), nil
	}
	var rec domain.UsageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error().Err(err).Str("identity_id", identity.ID).Msg("decode guest record failed, using default")
		return domain.NewUsageRecord(identity, today), nil
	}
	return rec, nil
}

// Save writes the record atomically via a temp file rename.
func (s *GuestStore) Save(ctx context.Context, identity domain.Identity, record domain.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.recordPath(identity)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: encode record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: commit record: %w", err)
	}
	return nil
}

// Clear removes the stored record. Clearing an absent record is a no-op.
func (s *GuestStore) Clear(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.recordPath(identity)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove record: %w", err)
	}
	return nil
}

func (s *GuestStore) recordPath(identity domain.Identity) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	key, err := sanitizeKey(identity.ID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, key+".json"), nil
}

// sanitizeKey normalizes an identity key and prevents escaping the store root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: identity id is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/") {
		return "", errors.New("storage: invalid identity id")
	}
	return cleaned, nil
}
