package coordinator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const stateVersion = 1

// stateDocument 是状态文件的 YAML 结构。
type stateDocument struct {
	Version int         `yaml:"version"`
	Packs   []PackState `yaml:"packs"`
}

// stateFile 以 YAML 持久化国家包状态，写入使用临时文件 + rename。
type stateFile struct {
	path string
	mu   sync.Mutex
}

func (s *stateFile) load() ([]PackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc stateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from %s: %w", s.path, err)
	}
	if doc.Version > stateVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %d", s.path, doc.Version)
	}
	return doc.Packs, nil
}

func (s *stateFile) save(packs []PackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(stateDocument{Version: stateVersion, Packs: packs})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", writeErr)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
