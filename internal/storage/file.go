package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileMedium stores each key as <dir>/<key>.json. Writes are atomic and
// durable: a reader sees either the previous or the new document.
type FileMedium struct {
	dir    string
	logger zerolog.Logger
}

func NewFileMedium(dir string) (*FileMedium, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileMedium{dir: dir, logger: log.WithComponent("storage.file")}, nil
}

// Path returns the file a key is stored in.
func (m *FileMedium) Path(key string) string {
	return filepath.Join(m.dir, key+".json")
}

func (m *FileMedium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(ctx, key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(m.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

func (m *FileMedium) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(ctx, key); err != nil {
		return err
	}
	pendingFile, err := renameio.NewPendingFile(m.Path(key), renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", key, err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			m.logger.Debug().Err(err).Str("key", key).Msg("cleanup pending file")
		}
	}()

	if _, err := pendingFile.Write(value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (m *FileMedium) Remove(ctx context.Context, key string) error {
	if err := checkKey(ctx, key); err != nil {
		return err
	}
	err := os.Remove(m.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func checkKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}
