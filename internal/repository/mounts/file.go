package mounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/matdotcx/carrus/internal/config"
)

// LedgerFilename is the name of the JSON ledger inside the state directory.
const LedgerFilename = "mounts.json"

// Record describes one disk image attachment that has not been fully released.
type Record struct {
	// ID identifies the attachment.
	ID string `json:"id"`
	// Image is the disk image path.
	Image string `json:"image"`
	// MountPoint is the temporary directory the image is attached at.
	MountPoint string `json:"mount_point"`
	// CreatedAt is when the mount point was created.
	CreatedAt time.Time `json:"created_at"`
	// PID is the process holding the attachment; zero when unknown.
	PID int `json:"pid,omitempty"`
}

// Repository persists outstanding mount records.
type Repository interface {
	Add(ctx context.Context, record Record) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}

// ErrNotFound is returned by Remove for an unknown record.
var ErrNotFound = errors.New("mount record not found")

// FileRepository keeps records in a JSON file. Each write goes through its own
// temporary file, so concurrent processes never share a partial ledger.
// The mutex serialises read-modify-write cycles within one process only.
type FileRepository struct {
	// path is the ledger file location.
	path string
	// mu protects read-modify-write cycles on the ledger.
	mu sync.Mutex
}

// NewFileRepository creates a repository storing LedgerFilename inside dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		path: filepath.Join(filepath.Clean(dir), LedgerFilename),
	}
}

// Add stores record, replacing any record with the same ID.
func (r *FileRepository) Add(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}

	records[record.ID] = record

	return r.write(records)
}

// Remove deletes the record with the given ID.
func (r *FileRepository) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}

	if _, ok := records[id]; !ok {
		return ErrNotFound
	}

	delete(records, id)

	return r.write(records)
}

// List returns every record ordered by creation time.
func (r *FileRepository) List(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return nil, err
	}

	result := make([]Record, 0, len(records))
	for _, record := range records {
		result = append(result, record)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}

		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// read loads the ledger; a missing file is an empty ledger.
func (r *FileRepository) read() (map[string]Record, error) {
	records := make(map[string]Record)

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}

		return nil, fmt.Errorf("read mount ledger: %w", err)
	}

	var list []Record
	if err = json.Unmarshal(contents, &list); err != nil {
		return nil, fmt.Errorf("decode mount ledger: %w", err)
	}

	for _, record := range list {
		records[record.ID] = record
	}

	return records, nil
}

// write replaces the ledger atomically through a temporary file.
func (r *FileRepository) write(records map[string]Record) error {
	list := make([]Record, 0, len(records))
	for _, record := range records {
		list = append(list, record)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mount ledger: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), LedgerFilename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create mount ledger: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write mount ledger: %w", err)
	}

	if err = tmp.Chmod(config.DefaultFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("write mount ledger: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write mount ledger: %w", err)
	}

	if err = os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace mount ledger: %w", err)
	}

	return nil
}
