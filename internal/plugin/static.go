package plugin

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticActivations is an in-memory activation table, usually loaded from YAML.
//
//	projects:
//	  "project-id":
//	    ticket: jira
//	    conversation: slack
type StaticActivations struct {
	mu       sync.RWMutex
	projects map[string]map[Kind]string
}

type activationFile struct {
	Projects map[string]map[Kind]string `yaml:"projects"`
}

// NewStaticActivations returns an empty table.
func NewStaticActivations() *StaticActivations {
	return &StaticActivations{projects: make(map[string]map[Kind]string)}
}

// LoadStaticActivations reads an activation file.
func LoadStaticActivations(path string) (*StaticActivations, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin activations: %w", err)
	}
	return ParseStaticActivations(raw)
}

// ParseStaticActivations decodes YAML activation content.
func ParseStaticActivations(raw []byte) (*StaticActivations, error) {
	var file activationFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode plugin activations: %w", err)
	}
	s := NewStaticActivations()
	for projectID, kinds := range file.Projects {
		for kind, slug := range kinds {
			if !kind.Valid() {
				return nil, fmt.Errorf("project %s: unknown plugin kind %q", projectID, kind)
			}
			s.Activate(projectID, kind, slug)
		}
	}
	return s, nil
}

// Activate sets the active slug for a project and kind.
func (s *StaticActivations) Activate(projectID string, kind Kind, slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects[projectID] == nil {
		s.projects[projectID] = make(map[Kind]string)
	}
	s.projects[projectID][kind] = slug
}

// ActiveSlug implements ActivationStore.
func (s *StaticActivations) ActiveSlug(_ context.Context, projectID string, kind Kind) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slug, ok := s.projects[projectID][kind]
	return slug, ok && slug != "", nil
}
