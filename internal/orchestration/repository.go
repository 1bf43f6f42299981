package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// ExecutionRepository persists WorkflowPlans and WorkflowExecutions.
// Implementations mirror the executor's in-memory bookkeeping into storage.
// The executor only writes through this interface; it never reads an
// execution back, so no execution is resumed after a process restart.
type ExecutionRepository interface {
	CreatePlan(ctx context.Context, plan *WorkflowPlan) error
	GetPlan(ctx context.Context, planID string) (*WorkflowPlan, error)

	CreateExecution(ctx context.Context, execution *WorkflowExecution) error
	UpdateExecution(ctx context.Context, execution *WorkflowExecution) error
	GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error)
	ListExecutions(ctx context.Context, state ExecutionState, limit int) ([]*WorkflowExecution, error)
}

// MemoryRepository is an in-process ExecutionRepository, used in tests and
// as the default when no ArangoDB connection is configured.
type MemoryRepository struct {
	mu         sync.RWMutex
	plans      map[string]*WorkflowPlan
	executions map[string]*WorkflowExecution
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		plans:      make(map[string]*WorkflowPlan),
		executions: make(map[string]*WorkflowExecution),
	}
}

func (r *MemoryRepository) CreatePlan(_ context.Context, plan *WorkflowPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = plan
	return nil
}

func (r *MemoryRepository) GetPlan(_ context.Context, planID string) (*WorkflowPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s not found", planID)
	}
	return p, nil
}

func (r *MemoryRepository) CreateExecution(_ context.Context, execution *WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = execution
	return nil
}

func (r *MemoryRepository) UpdateExecution(_ context.Context, execution *WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[execution.ID]; !ok {
		return fmt.Errorf("execution %s not found", execution.ID)
	}
	r.executions[execution.ID] = execution
	return nil
}

func (r *MemoryRepository) GetExecution(_ context.Context, executionID string) (*WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	return e, nil
}

func (r *MemoryRepository) ListExecutions(_ context.Context, state ExecutionState, limit int) ([]*WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*WorkflowExecution
	for _, e := range r.executions {
		if state != "" && e.State != state {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ArangoRepositoryConfig configures the ArangoDB-backed repository.
type ArangoRepositoryConfig struct {
	PlansCollection      string
	ExecutionsCollection string
	EnableIndexes        bool
}

// DefaultArangoRepositoryConfig mirrors this codebase's usual ArangoDB
// collection naming.
func DefaultArangoRepositoryConfig() ArangoRepositoryConfig {
	return ArangoRepositoryConfig{
		PlansCollection:      "workflow_plans",
		ExecutionsCollection: "workflow_executions",
		EnableIndexes:        true,
	}
}

// ArangoRepository is the durable ExecutionRepository backed by ArangoDB,
// following the collection-per-entity layout the rest of this codebase
// uses for its document stores.
type ArangoRepository struct {
	db                   driver.Database
	plansCollection      driver.Collection
	executionsCollection driver.Collection
	logger               *log.Logger
}

// NewArangoRepository opens (or creates) the plan and execution
// collections and returns a repository backed by them.
func NewArangoRepository(ctx context.Context, db driver.Database, cfg ArangoRepositoryConfig, logger *log.Logger) (*ArangoRepository, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &ArangoRepository{db: db, logger: logger}

	var err error
	r.plansCollection, err = ensureCollection(ctx, db, cfg.PlansCollection, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize plans collection: %w", err)
	}
	r.executionsCollection, err = ensureCollection(ctx, db, cfg.ExecutionsCollection, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize executions collection: %w", err)
	}

	if cfg.EnableIndexes {
		if err := r.createIndexes(ctx); err != nil {
			logger.WithError(err).Warn("failed to create orchestration indexes")
		}
	}

	return r, nil
}

func ensureCollection(ctx context.Context, db driver.Database, name string, logger *log.Logger) (driver.Collection, error) {
	col, err := db.Collection(ctx, name)
	if err == nil {
		return col, nil
	}
	col, err = db.CreateCollection(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	logger.WithField("collection", name).Info("created orchestration collection")
	return col, nil
}

func (r *ArangoRepository) createIndexes(ctx context.Context) error {
	if _, _, err := r.executionsCollection.EnsurePersistentIndex(ctx, []string{"plan_id"}, &driver.EnsurePersistentIndexOptions{}); err != nil {
		return err
	}
	if _, _, err := r.executionsCollection.EnsurePersistentIndex(ctx, []string{"state"}, &driver.EnsurePersistentIndexOptions{}); err != nil {
		return err
	}
	return nil
}

// arangoDocument wraps a value with the _key ArangoDB expects, since none
// of the value objects in this package declare json struct tags of their
// own (they are kept as plain Go structs for in-memory use).
type arangoDocument struct {
	Key string      `json:"_key"`
	Doc interface{} `json:"doc"`
}

func (r *ArangoRepository) CreatePlan(ctx context.Context, plan *WorkflowPlan) error {
	_, err := r.plansCollection.CreateDocument(ctx, arangoDocument{Key: plan.ID, Doc: plan})
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (r *ArangoRepository) GetPlan(ctx context.Context, planID string) (*WorkflowPlan, error) {
	var stored arangoDocument
	var plan WorkflowPlan
	stored.Doc = &plan
	_, err := r.plansCollection.ReadDocument(ctx, planID, &stored)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, fmt.Errorf("plan %s not found", planID)
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return &plan, nil
}

func (r *ArangoRepository) CreateExecution(ctx context.Context, execution *WorkflowExecution) error {
	_, err := r.executionsCollection.CreateDocument(ctx, arangoDocument{Key: execution.ID, Doc: execution})
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	r.logger.WithField("execution_id", execution.ID).Info("execution persisted")
	return nil
}

func (r *ArangoRepository) UpdateExecution(ctx context.Context, execution *WorkflowExecution) error {
	_, err := r.executionsCollection.UpdateDocument(ctx, execution.ID, arangoDocument{Key: execution.ID, Doc: execution})
	if err != nil {
		if driver.IsNotFound(err) {
			return fmt.Errorf("execution %s not found", execution.ID)
		}
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

func (r *ArangoRepository) GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error) {
	var execution WorkflowExecution
	stored := arangoDocument{Doc: &execution}
	_, err := r.executionsCollection.ReadDocument(ctx, executionID, &stored)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, fmt.Errorf("execution %s not found", executionID)
		}
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	return &execution, nil
}

func (r *ArangoRepository) ListExecutions(ctx context.Context, state ExecutionState, limit int) ([]*WorkflowExecution, error) {
	query := `
		FOR e IN @@collection
		FILTER @state == "" OR e.doc.State == @state
		SORT e.doc.StartTime DESC
		LIMIT @limit
		RETURN e.doc
	`
	bindVars := map[string]interface{}{
		"@collection": r.executionsCollection.Name(),
		"state":       string(state),
		"limit":       limit,
	}
	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer cursor.Close()

	var out []*WorkflowExecution
	for cursor.HasMore() {
		var execution WorkflowExecution
		if _, err := cursor.ReadDocument(ctx, &execution); err != nil {
			r.logger.WithError(err).Warn("failed to read execution document")
			continue
		}
		out = append(out, &execution)
	}
	return out, nil
}
