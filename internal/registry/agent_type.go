// Package registry tracks the AgentTypeDefinitions the orchestrator knows
// how to route work to: one definition per role (PM, BA, SA, RESEARCH,
// QUALITY_JUDGE, IMPLEMENTATION, or an operator-added custom role), its
// configuration schema, and whether it is currently enabled.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// AgentTypeDefinition describes one role the pool layer can instantiate
// instances for. It is named "definition" rather than the bare "AgentType"
// the rest of this codebase uses elsewhere, so it never collides with the
// plain role string this module passes around as an AgentTask.Type.
type AgentTypeDefinition struct {
	ID                   string
	Name                 string
	Description          string
	Schema               json.RawMessage
	DefaultConfig        map[string]interface{}
	IsSystemType         bool
	IsEnabled            bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Repository stores AgentTypeDefinitions.
type Repository interface {
	Create(ctx context.Context, def *AgentTypeDefinition) error
	Get(ctx context.Context, id string) (*AgentTypeDefinition, error)
	Update(ctx context.Context, def *AgentTypeDefinition) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*AgentTypeDefinition, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// MemoryRepository is an in-process Repository, the default until an
// ArangoDB-backed one is wired in.
type MemoryRepository struct {
	mu    sync.RWMutex
	types map[string]*AgentTypeDefinition
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{types: make(map[string]*AgentTypeDefinition)}
}

func (r *MemoryRepository) Create(_ context.Context, def *AgentTypeDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.ID]; exists {
		return fmt.Errorf("agent type %s already exists", def.ID)
	}
	r.types[def.ID] = def
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*AgentTypeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("agent type %s not found", id)
	}
	return d, nil
}

func (r *MemoryRepository) Update(_ context.Context, def *AgentTypeDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[def.ID]; !ok {
		return fmt.Errorf("agent type %s not found", def.ID)
	}
	r.types[def.ID] = def
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[id]; !ok {
		return fmt.Errorf("agent type %s not found", id)
	}
	delete(r.types, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*AgentTypeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentTypeDefinition, 0, len(r.types))
	for _, d := range r.types {
		out = append(out, d)
	}
	return out, nil
}

func (r *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[id]
	return ok, nil
}

// Service wraps a Repository with registration validation and JSON-schema
// based config validation, grounded on this codebase's agent-type service
// pattern.
type Service struct {
	repo   Repository
	logger logrus.FieldLogger
}

// NewService builds a Service over repo.
func NewService(repo Repository, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{repo: repo, logger: logger}
}

// RegisterType creates def, or updates it in place if an id collision
// isn't protected by IsSystemType.
func (s *Service) RegisterType(ctx context.Context, def *AgentTypeDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("agent type id is required")
	}
	if len(def.Schema) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Schema)); err != nil {
			return fmt.Errorf("agent type %s has an invalid schema: %w", def.ID, err)
		}
	}

	now := time.Now()
	def.UpdatedAt = now
	exists, err := s.repo.Exists(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("failed to check agent type %s: %w", def.ID, err)
	}
	if exists {
		current, err := s.repo.Get(ctx, def.ID)
		if err != nil {
			return fmt.Errorf("failed to load agent type %s: %w", def.ID, err)
		}
		if current.IsSystemType {
			return fmt.Errorf("agent type %s is a system type and cannot be overwritten", def.ID)
		}
		return s.repo.Update(ctx, def)
	}
	def.CreatedAt = now
	if err := s.repo.Create(ctx, def); err != nil {
		return fmt.Errorf("failed to register agent type %s: %w", def.ID, err)
	}
	s.logger.WithField("type_id", def.ID).Info("agent type registered")
	return nil
}

// GetType fetches a definition by id.
func (s *Service) GetType(ctx context.Context, id string) (*AgentTypeDefinition, error) {
	return s.repo.Get(ctx, id)
}

// ListTypes returns every registered definition.
func (s *Service) ListTypes(ctx context.Context) ([]*AgentTypeDefinition, error) {
	return s.repo.List(ctx)
}

// IsValidType reports whether id names a known, enabled agent type.
func (s *Service) IsValidType(ctx context.Context, id string) bool {
	def, err := s.repo.Get(ctx, id)
	if err != nil {
		return false
	}
	return def.IsEnabled
}

// ValidateConfig validates config against the named type's JSON schema, if
// one is declared; a type with no schema accepts any config.
func (s *Service) ValidateConfig(ctx context.Context, typeID string, config map[string]interface{}) error {
	def, err := s.repo.Get(ctx, typeID)
	if err != nil {
		return fmt.Errorf("agent type %s not found: %w", typeID, err)
	}
	if !def.IsEnabled {
		return fmt.Errorf("agent type %s is disabled", typeID)
	}
	if len(def.Schema) == 0 {
		return nil
	}

	configBytes, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(def.Schema), gojsonschema.NewBytesLoader(configBytes))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errMsg := fmt.Sprintf("configuration for agent type %s failed validation:", typeID)
		for _, desc := range result.Errors() {
			errMsg += "\n  - " + desc.String()
		}
		return fmt.Errorf(errMsg)
	}
	return nil
}
