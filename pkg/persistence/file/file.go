// Package file provides file-based persistence for tests and local development.
//
// Entities are stored as one JSON document per file. A process-wide mutex
// stands in for the database's conditional updates, so the claim semantics
// match the PostgreSQL backend within a single process.
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

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a new file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	workflows, err := readAll[models.Workflow](fp.dir("workflows"))
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.DeletedAt == nil {
			active = append(active, workflow)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active, nil
}

func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return writeEntity(fp.dir("workflows"), workflow.ID, workflow)
}

func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.workflowByIDLocked(id)
}

func (fp *Persistence) workflowByIDLocked(id string) (*models.Workflow, error) {
	workflow, err := readEntity[models.Workflow](fp.dir("workflows"), id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, err
	}

	if workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	workflow, err := fp.workflowByIDLocked(id)
	if err != nil {
		return err
	}

	now := timeNow()
	workflow.DeletedAt = &now
	workflow.UpdatedAt = now

	return writeEntity(fp.dir("workflows"), workflow.ID, workflow)
}

func (fp *Persistence) NodeTemplates(_ context.Context) ([]*models.NodeTemplate, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	templates, err := readAll[models.NodeTemplate](fp.dir("node_templates"))
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Code < templates[j].Code
	})

	return templates, nil
}

func (fp *Persistence) SaveNodeTemplate(_ context.Context, tpl *models.NodeTemplate) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return writeEntity(fp.dir("node_templates"), tpl.Code, tpl)
}

func (fp *Persistence) NodeTemplateByCode(_ context.Context, code string) (*models.NodeTemplate, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	tpl, err := readEntity[models.NodeTemplate](fp.dir("node_templates"), code)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrNodeTemplateNotFound
		}

		return nil, err
	}

	return tpl, nil
}

func (fp *Persistence) dir(entity string) string {
	return filepath.Join(fp.root, entity)
}

func writeEntity(dir, id string, entity any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", id, err)
	}

	path := filepath.Join(dir, id+".json")

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func readEntity[T any](dir, id string) (*T, error) {
	path := filepath.Join(dir, id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entity := new(T)

	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return entity, nil
}

func readAll[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	entities := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		entity, err := readEntity[T](dir, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		entities = append(entities, entity)
	}

	return entities, nil
}
