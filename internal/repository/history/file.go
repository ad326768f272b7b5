package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
)

// DefaultLimit is how many records a FileRepository keeps.
const DefaultLimit = 50

// Repository defines persistence operations for task records.
type Repository interface {
	Append(ctx context.Context, record *domain.Record) error
	List(ctx context.Context) ([]*domain.Record, error)
	Get(ctx context.Context, id string) (*domain.Record, error)
}

// FileRepository persists records to a JSON file on disk, newest first.
type FileRepository struct {
	// path is the filesystem location of the JSON history file.
	path string
	// limit caps the number of stored records.
	limit int
	// mu protects concurrent access to the history file.
	mu sync.Mutex
}

// document is the on-disk layout.
type document struct {
	Records []*domain.Record `json:"records"`
}

var (
	// ErrNotFound is returned by Get for unknown run IDs.
	ErrNotFound = errors.New("record not found")

	errNilRecord = errors.New("record must not be nil")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string, limit int) *FileRepository {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &FileRepository{
		path:  filepath.Clean(path),
		limit: limit,
	}
}

// Append stores a record in front of the existing ones and trims the history.
func (r *FileRepository) Append(_ context.Context, record *domain.Record) error {
	if record == nil {
		return errNilRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}

	doc.Records = append([]*domain.Record{record.Clone()}, doc.Records...)
	if len(doc.Records) > r.limit {
		doc.Records = doc.Records[:r.limit]
	}

	return r.write(doc)
}

// List returns stored records, newest first. A missing file yields no records.
func (r *FileRepository) List(_ context.Context) ([]*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}

	return doc.Records, nil
}

// Get returns the record of run id.
func (r *FileRepository) Get(_ context.Context, id string) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}

	for _, record := range doc.Records {
		if record.ID == id {
			return record, nil
		}
	}

	return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
}

func (r *FileRepository) read() (*document, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &document{}, nil
		}

		return nil, fmt.Errorf("read history file: %w", err)
	}

	var doc document
	if err = json.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}

	return &doc, nil
}

// write replaces the file through a rename so readers never see a partial document.
func (r *FileRepository) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace history file: %w", err)
	}

	return nil
}
