// Package coldstore holds the immutable columnar tier: an object-store
// abstraction plus the batch codec. Batches are written once by the rotator
// and only ever read after that.
package coldstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// ErrObjectNotFound is returned by Get for a path that was never written.
var ErrObjectNotFound = errors.New("cold store object not found")

// ObjectStore is the durability boundary for rotation. Put must not return
// nil until the object is durably stored; the rotator deletes hot rows based
// on that guarantee.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// BatchPath composes the object path for a rotation batch. It is built only
// from the signal type, a date component, and a generated batch id — never
// from user-supplied strings.
func BatchPath(signal model.Signal, date time.Time, batchID string) string {
	return fmt.Sprintf("%s/%s/%s.col", signal, date.UTC().Format("2006-01-02"), batchID)
}

// FSStore is an ObjectStore on a local or mounted filesystem. Writes go to a
// temporary file that is fsynced and then renamed into place, so a crashed
// write leaves only an orphan temp file, never a half-written object.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cold store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (fs *FSStore) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(fs.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create cold store directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".batch-*")
	if err != nil {
		return fmt.Errorf("failed to create cold store temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cold store object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync cold store object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cold store object: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish cold store object: %w", err)
	}
	return nil
}

func (fs *FSStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(fs.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read cold store object: %w", err)
	}
	return data, nil
}
