package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// Persistence handles saving and loading a workflow's agents.json
type Persistence struct {
	registryFile string
}

// NewPersistence creates a persistence handler for the workflow directory
func NewPersistence(workflowDir string) *Persistence {
	return &Persistence{
		registryFile: RegistryPath(workflowDir),
	}
}

// RegistryPath is state/agents.json under the workflow directory.
func RegistryPath(workflowDir string) string {
	return filepath.Join(workflowDir, "state", "agents.json")
}

// Save saves the registry to disk
func (p *Persistence) Save(reg *workflow.Registry) error {
	return writeJSONAtomic(p.registryFile, reg)
}

// Load loads the registry from disk
func (p *Persistence) Load() (*workflow.Registry, error) {
	data, err := os.ReadFile(p.registryFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("registry not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var reg workflow.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry: %w", err)
	}

	// Initialize maps if they're nil
	if reg.Agents == nil {
		reg.Agents = make(map[string]*workflow.AgentRecord)
	}
	for id, agent := range reg.Agents {
		if agent == nil {
			delete(reg.Agents, id)
		}
	}

	return &reg, nil
}

// CurrentPath is current.json in the base directory.
func CurrentPath(baseDir string) string {
	return filepath.Join(baseDir, "current.json")
}

// SaveCurrent writes the current-workflow pointer.
func SaveCurrent(baseDir string, cur workflow.Current) error {
	return writeJSONAtomic(CurrentPath(baseDir), cur)
}

// LoadCurrent reads the current-workflow pointer. It returns nil and no
// error when no pointer exists.
func LoadCurrent(baseDir string) (*workflow.Current, error) {
	data, err := os.ReadFile(CurrentPath(baseDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read current workflow: %w", err)
	}

	var cur workflow.Current
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current workflow: %w", err)
	}

	return &cur, nil
}

// ClearCurrent removes the current-workflow pointer if present.
func ClearCurrent(baseDir string) error {
	if err := os.Remove(CurrentPath(baseDir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove current workflow: %w", err)
	}
	return nil
}

// writeJSONAtomic marshals v and writes it with WriteFileAtomic.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}

	return WriteFileAtomic(path, data)
}

// WriteFileAtomic replaces path with data through a uniquely named temp file
// in the same directory. Readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	name := filepath.Base(path)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}

	return nil
}
