package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

const userFileExt = ".yaml"

// FileStore keeps one YAML document per user under dir.
type FileStore struct {
	dir string
}

// NewFileStore creates dir (0700) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(id, 10)+userFileExt)
}

func (s *FileStore) Load(ctx context.Context, id int64) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("read user %d: %w", id, err)
	}

	var u model.User
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %d: %w", id, err)
	}
	u.ID = id
	return &u, nil
}

// Save writes the user atomically: temp file in the same directory, fsync,
// rename over the target.
func (s *FileStore) Save(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u == nil {
		return errors.New("user is nil")
	}

	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %d: %w", u.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".user-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path(u.ID)); err != nil {
		return fmt.Errorf("store user %d: %w", u.ID, err)
	}

	appLog.Debug("user saved", "user", u.ID, "bytes", len(data))
	return nil
}

func (s *FileStore) UserIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, userFileExt) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, userFileExt), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
