// Package file provides file-based persistence implementation for workflows, enrollments, leads,
// stages and notifications. Records are stored as one JSON document per file under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/leadflow/pkg/persistence"
)

const (
	workflowsDir      = "workflows"
	enrollmentsDir    = "enrollments"
	stepExecutionsDir = "step_executions"
	leadsDir          = "leads"
	stagesDir         = "stages"
	triggersDir       = "triggers"
	transitionsDir    = "transitions"
	preferencesDir    = "preferences"
	contactsDir       = "contacts"
	inAppDir          = "in_app"
	deliveriesDir     = "deliveries"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	workflowRepo   *WorkflowRepository
	enrollmentRepo *EnrollmentRepository
	leadRepo       *LeadRepository
	stageRepo      *StageRepository
	notifyRepo     *NotificationRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
// All repositories share one lock, which makes compare-and-set operations atomic within a process.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	s := &store{root: cleanRoot, mu: &sync.RWMutex{}}

	return &Persistence{
		root:           cleanRoot,
		workflowRepo:   &WorkflowRepository{store: s},
		enrollmentRepo: &EnrollmentRepository{store: s},
		leadRepo:       &LeadRepository{store: s},
		stageRepo:      &StageRepository{store: s},
		notifyRepo:     &NotificationRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return fp.enrollmentRepo
}

func (fp *Persistence) LeadRepository() persistence.LeadRepository {
	return fp.leadRepo
}

func (fp *Persistence) StageRepository() persistence.StageRepository {
	return fp.stageRepo
}

func (fp *Persistence) NotificationRepository() persistence.NotificationRepository {
	return fp.notifyRepo
}

type store struct {
	root string
	mu   *sync.RWMutex
}

func (s *store) path(collection, key string) string {
	return filepath.Join(s.root, collection, url.PathEscape(key)+".json")
}

// read loads a record; it reports false when the record does not exist.
func (s *store) read(collection, key string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(collection, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}

	return true, nil
}

// write stores a record atomically by writing to a temporary file and renaming it.
func (s *store) write(collection, key string, v any) error {
	dir := filepath.Join(s.root, collection)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}

	err = os.Rename(tmp.Name(), s.path(collection, key))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to persist %s/%s: %w", collection, key, err)
	}

	return nil
}

func (s *store) exists(collection, key string) bool {
	_, err := os.Stat(s.path(collection, key))

	return err == nil
}

// readAll decodes every record of a collection. A missing collection is empty.
func readAll[T any](s *store, collection string) ([]T, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, collection, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	records := make([]T, 0, len(matches))

	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("failed to read %s: %w", match, err)
		}

		var record T

		err = json.Unmarshal(data, &record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", match, err)
		}

		records = append(records, record)
	}

	return records, nil
}
