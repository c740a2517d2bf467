// Package file provides file-based persistence: one JSON document per record under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/novotx/elsa-core/pkg/persistence"
)

const (
	definitionsDir = "definitions"
	instancesDir   = "instances"
	bookmarksDir   = "bookmarks"
	triggersDir    = "triggers"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string

	// mu serializes every read and write of the tree.
	mu sync.RWMutex

	definitions *DefinitionRepository
	instances   *InstanceRepository
	bookmarks   *BookmarkRepository
	triggers    *TriggerRepository
}

// NewPersistence creates a store rooted at root. A "file://" prefix is accepted.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{definitionsDir, instancesDir, bookmarksDir, triggersDir} {
		err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0750)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	p := &Persistence{root: cleanRoot}
	p.definitions = &DefinitionRepository{store: p}
	p.instances = &InstanceRepository{store: p}
	p.bookmarks = &BookmarkRepository{store: p}
	p.triggers = &TriggerRepository{store: p}

	return p, nil
}

func (p *Persistence) WorkflowDefinitionRepository() persistence.WorkflowDefinitionRepository {
	return p.definitions
}

func (p *Persistence) WorkflowInstanceRepository() persistence.WorkflowInstanceRepository {
	return p.instances
}

func (p *Persistence) BookmarkRepository() persistence.BookmarkRepository {
	return p.bookmarks
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggers
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("file store root %s: %w", p.root, err)
	}

	return nil
}

// validateID rejects ids that would escape the record directory.
func validateID(id string) error {
	if id == "" {
		return persistence.ErrMissingID
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}

	return nil
}

func (p *Persistence) path(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

// write replaces a record atomically through a temp file and rename.
func (p *Persistence) write(dir, id string, data []byte) error {
	target := p.path(dir, id)
	tmp := target + ".tmp"

	err := os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	err = os.Rename(tmp, target)
	if err != nil {
		return fmt.Errorf("failed to replace %s/%s: %w", dir, id, err)
	}

	return nil
}

// read returns nil data when the record does not exist.
func (p *Persistence) read(dir, id string) ([]byte, error) {
	data, err := os.ReadFile(p.path(dir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", dir, id, err)
	}

	return data, nil
}

func (p *Persistence) remove(dir, id string) error {
	err := os.Remove(p.path(dir, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s/%s: %w", dir, id, err)
	}

	return nil
}

// ids lists the record ids of dir in lexical order.
func (p *Persistence) ids(dir string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(p.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}

// collection reads and writes one record kind as JSON documents.
type collection[T any] struct {
	store  *Persistence
	dir    string
	entity string
	encode func(*T) ([]byte, error)
	decode func([]byte) (*T, error)
}

func jsonCollection[T any](store *Persistence, dir, entity string) collection[T] {
	return collection[T]{
		store:  store,
		dir:    dir,
		entity: entity,
		encode: func(v *T) ([]byte, error) { return json.Marshal(v) },
		decode: func(data []byte) (*T, error) {
			var v T

			err := json.Unmarshal(data, &v)
			if err != nil {
				return nil, err
			}

			return &v, nil
		},
	}
}

func (c collection[T]) put(op, id string, v *T) error {
	err := validateID(id)
	if err != nil {
		return persistence.NewStoreError(op, c.entity, id, err)
	}

	data, err := c.encode(v)
	if err != nil {
		return persistence.NewStoreError(op, c.entity, id, err)
	}

	return c.store.write(c.dir, id, data)
}

func (c collection[T]) get(op, id string) (*T, error) {
	if validateID(id) != nil {
		return nil, nil
	}

	data, err := c.store.read(c.dir, id)
	if err != nil || data == nil {
		return nil, err
	}

	v, err := c.decode(data)
	if err != nil {
		return nil, persistence.NewStoreError(op, c.entity, id, fmt.Errorf("%w: %w", persistence.ErrCorruptRecord, err))
	}

	return v, nil
}

// filter loads every record and returns the matching ones ordered by less.
func (c collection[T]) filter(op string, match func(*T) bool, less func(a, b *T) bool) ([]*T, error) {
	ids, err := c.store.ids(c.dir)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0)

	for _, id := range ids {
		v, err := c.get(op, id)
		if err != nil {
			return nil, err
		}

		if v != nil && match(v) {
			out = append(out, v)
		}
	}

	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}

	return out, nil
}

// deleteWhere removes the matching records and returns how many were removed.
func (c collection[T]) deleteWhere(op string, match func(*T) bool, id func(*T) string) (int, error) {
	matches, err := c.filter(op, match, nil)
	if err != nil {
		return 0, err
	}

	for _, v := range matches {
		err = c.store.remove(c.dir, id(v))
		if err != nil {
			return 0, err
		}
	}

	return len(matches), nil
}

var (
	_ persistence.Persistence = (*Persistence)(nil)
	_ persistence.IndexStore  = (*Persistence)(nil)
)
