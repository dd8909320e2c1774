package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
)

// Clone writes a consistent copy of the store to dst for enrolling another
// device. Device-local metadata (device id, sync cursors) is cleared in the
// copy so the new replica gets its own identity.
func (s *Store) Clone(ctx context.Context, dst string) error {
	abs, err := filex.EnsureParentDir(dst)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%s: %w", abs, common.ErrAlreadyExists)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, abs); err != nil {
		return fmt.Errorf("%w: clone: %v", common.ErrStorage, err)
	}

	db, err := sql.Open("sqlite", dsn(abs))
	if err != nil {
		return fmt.Errorf("%w: clone: %v", common.ErrStorage, err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `DELETE FROM metadata`); err != nil {
		return fmt.Errorf("%w: clone: %v", common.ErrStorage, err)
	}
	s.logger.Info(ctx, "store cloned", "path", abs)
	return nil
}
