// Package memory provides an in-process persistence backend on go-memdb.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/hashicorp/go-memdb"
)

const (
	tableWorkflows = "workflows"
	tableRuns      = "runs"
	tableNodeRuns  = "node_runs"
)

type workflowRecord struct {
	ID       string
	Workflow *models.Workflow
}

type runRecord struct {
	ID  string
	Run *models.WorkflowRun
}

type nodeRunRecord struct {
	RunID   string
	NodeID  string
	Seq     int64
	NodeRun *models.NodeRun
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableWorkflows: {
				Name: tableWorkflows,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableRuns: {
				Name: tableRuns,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableNodeRuns: {
				Name: tableNodeRuns,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "RunID"},
							&memdb.StringFieldIndex{Field: "NodeID"},
						}},
					},
					"run": {Name: "run", Indexer: &memdb.StringFieldIndex{Field: "RunID"}},
				},
			},
		},
	}
}

// Persistence keeps workflows and run state in memory. Stored records are
// never handed out; reads and writes go through copies.
type Persistence struct {
	db  *memdb.MemDB
	seq atomic.Int64
}

// NewPersistence creates an empty in-memory backend.
func NewPersistence() (*Persistence, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}

	return &Persistence{db: db}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{db: p.db}
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return &runRepository{p: p}
}

// HealthCheck always succeeds for the in-memory backend.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type workflowRepository struct {
	db *memdb.MemDB
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	err := txn.Insert(tableWorkflows, &workflowRecord{ID: workflow.ID, Workflow: workflow.Clone()})
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableWorkflows, "id", id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if raw == nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return raw.(*workflowRecord).Workflow.Clone(), nil
}

func (r *workflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableWorkflows, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		workflows = append(workflows, obj.(*workflowRecord).Workflow.Clone())
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int { return b.CreatedAt.Compare(a.CreatedAt) })

	return workflows, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	n, err := txn.DeleteAll(tableWorkflows, "id", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if n == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	txn.Commit()

	return nil
}

type runRepository struct {
	p *Persistence
}

func (r *runRepository) CreateWorkflowRun(_ context.Context, run *models.WorkflowRun) error {
	txn := r.p.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableRuns, "id", run.ID)
	if err != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	if existing != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, persistence.ErrRunAlreadyExists)
	}

	if err := txn.Insert(tableRuns, &runRecord{ID: run.ID, Run: run.Clone()}); err != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *runRepository) CreateNodeRun(_ context.Context, nodeRun *models.NodeRun) error {
	const op = "CreateNodeRun"

	txn := r.p.db.Txn(true)
	defer txn.Abort()

	run, err := txn.First(tableRuns, "id", nodeRun.WorkflowRunID)
	if err != nil {
		return persistence.NewRunError(op, nodeRun.WorkflowRunID, err)
	}

	if run == nil {
		return persistence.NewRunError(op, nodeRun.WorkflowRunID, persistence.ErrRunNotFound)
	}

	existing, err := txn.First(tableNodeRuns, "id", nodeRun.WorkflowRunID, nodeRun.NodeID)
	if err != nil {
		return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, err)
	}

	if existing != nil {
		return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, persistence.ErrRunAlreadyExists)
	}

	record := &nodeRunRecord{
		RunID:   nodeRun.WorkflowRunID,
		NodeID:  nodeRun.NodeID,
		Seq:     r.p.seq.Add(1),
		NodeRun: nodeRun.Clone(),
	}
	if err := txn.Insert(tableNodeRuns, record); err != nil {
		return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, err)
	}

	txn.Commit()

	return nil
}

func (r *runRepository) UpdateNodeRunStatus(_ context.Context, runID, nodeID string, update models.NodeRunUpdate) error {
	const op = "UpdateNodeRunStatus"

	txn := r.p.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableNodeRuns, "id", runID, nodeID)
	if err != nil {
		return persistence.NewNodeRunError(op, runID, nodeID, err)
	}

	if raw == nil {
		return persistence.NewNodeRunError(op, runID, nodeID, persistence.ErrNodeRunNotFound)
	}

	current := raw.(*nodeRunRecord)
	next := current.NodeRun.Clone()

	if err := persistence.ApplyNodeRunUpdate(next, update); err != nil {
		return err
	}

	record := &nodeRunRecord{RunID: runID, NodeID: nodeID, Seq: current.Seq, NodeRun: next}
	if err := txn.Insert(tableNodeRuns, record); err != nil {
		return persistence.NewNodeRunError(op, runID, nodeID, err)
	}

	txn.Commit()

	return nil
}

func (r *runRepository) UpdateWorkflowRunStatus(_ context.Context, runID string, status models.RunStatus, errMsg string) error {
	const op = "UpdateWorkflowRunStatus"

	txn := r.p.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableRuns, "id", runID)
	if err != nil {
		return persistence.NewRunError(op, runID, err)
	}

	if raw == nil {
		return persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
	}

	next := raw.(*runRecord).Run.Clone()
	if err := persistence.ApplyWorkflowRunStatus(next, status, errMsg); err != nil {
		return err
	}

	if err := txn.Insert(tableRuns, &runRecord{ID: runID, Run: next}); err != nil {
		return persistence.NewRunError(op, runID, err)
	}

	txn.Commit()

	return nil
}

func (r *runRepository) WorkflowRun(_ context.Context, runID string) (*models.WorkflowRun, error) {
	txn := r.p.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableRuns, "id", runID)
	if err != nil {
		return nil, persistence.NewRunError("WorkflowRun", runID, err)
	}

	if raw == nil {
		return nil, persistence.NewRunError("WorkflowRun", runID, persistence.ErrRunNotFound)
	}

	return raw.(*runRecord).Run.Clone(), nil
}

func (r *runRepository) NodeRuns(_ context.Context, runID string) ([]*models.NodeRun, error) {
	txn := r.p.db.Txn(false)
	defer txn.Abort()

	run, err := txn.First(tableRuns, "id", runID)
	if err != nil {
		return nil, persistence.NewRunError("NodeRuns", runID, err)
	}

	if run == nil {
		return nil, persistence.NewRunError("NodeRuns", runID, persistence.ErrRunNotFound)
	}

	it, err := txn.Get(tableNodeRuns, "run", runID)
	if err != nil {
		return nil, persistence.NewRunError("NodeRuns", runID, err)
	}

	var records []*nodeRunRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(*nodeRunRecord))
	}

	slices.SortFunc(records, func(a, b *nodeRunRecord) int { return int(a.Seq - b.Seq) })

	nodeRuns := make([]*models.NodeRun, len(records))
	for i, rec := range records {
		nodeRuns[i] = rec.NodeRun.Clone()
	}

	return nodeRuns, nil
}

func (r *runRepository) ListWorkflowRuns(_ context.Context, limit int) ([]*models.WorkflowRun, error) {
	txn := r.p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableRuns, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		runs = append(runs, obj.(*runRecord).Run.Clone())
	}

	return persistence.NewestFirst(runs, limit), nil
}
