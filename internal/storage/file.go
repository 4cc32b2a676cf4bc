package storage

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/tatianab/jianghu/internal/models"
)

// FileStore keeps each save as a YAML directory under a root directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// The models helpers read the package-level SaveDir, so calls are
// serialized and point it at this store's root for their duration.
func (f *FileStore) with(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := models.SaveDir
	models.SaveDir = f.dir
	defer func() { models.SaveDir = prev }()
	return fn()
}

func (f *FileStore) Save(ctx context.Context, s *models.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := requireID(s); err != nil {
		return err
	}
	return f.with(func() error { return s.Save(s.ID) })
}

func (f *FileStore) Load(ctx context.Context, id string) (*models.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *models.GameSession
	err := f.with(func() error {
		var err error
		s, err = models.LoadSession(id)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return s, err
}

func (f *FileStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var list []Summary
	err := f.with(func() error {
		names, err := models.ListSessions()
		if err != nil {
			return err
		}
		for _, name := range names {
			s, err := models.LoadSession(name)
			if err != nil {
				// Unreadable saves are skipped rather than hiding the rest.
				continue
			}
			list = append(list, summarize(s))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(list)
	return list, nil
}
