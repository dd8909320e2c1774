package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/repositories/metadata"
	"github.com/google/uuid"
)

// DeviceID returns this store's device id, creating and persisting one on
// first use. A non-empty override replaces the stored id.
func (s *Store) DeviceID(ctx context.Context, override string) (string, error) {
	md := s.Repos().Metadata
	if override != "" {
		if err := md.SetString(ctx, metadata.KeyDeviceID, override); err != nil {
			return "", fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		return override, nil
	}

	id, err := md.GetString(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := md.SetString(ctx, metadata.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	s.logger.Info(ctx, "device id generated", "device", id)
	return id, nil
}
