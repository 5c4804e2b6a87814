package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
)

// runDocument is the on-disk layout of one run: the run record and its node
// runs in creation order.
type runDocument struct {
	Run      *models.WorkflowRun `json:"run"`
	NodeRuns []*models.NodeRun   `json:"node_runs"`
}

func (d *runDocument) nodeRun(nodeID string) *models.NodeRun {
	for _, nr := range d.NodeRuns {
		if nr.NodeID == nodeID {
			return nr
		}
	}

	return nil
}

// RunRepository stores each run as runs/<id>.json.
type RunRepository struct {
	root  string
	locks keyedMutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) path(runID string) string {
	return filepath.Join(rr.root, "runs", runID+".json")
}

func (rr *RunRepository) load(op, runID string) (*runDocument, error) {
	if err := validateID("run", runID); err != nil {
		return nil, persistence.NewRunError(op, runID, err)
	}

	data, err := os.ReadFile(rr.path(runID)) // #nosec G304 -- runID is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var doc runDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &doc, nil
}

func (rr *RunRepository) store(doc *runDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", doc.Run.ID, err)
	}

	return writeFile(rr.path(doc.Run.ID), data)
}

// update loads the run document, applies fn and writes it back under the run's lock.
func (rr *RunRepository) update(op, runID string, fn func(*runDocument) error) error {
	unlock := rr.locks.lock(runID)
	defer unlock()

	doc, err := rr.load(op, runID)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	return rr.store(doc)
}

func (rr *RunRepository) CreateWorkflowRun(_ context.Context, run *models.WorkflowRun) error {
	if err := validateID("run", run.ID); err != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	unlock := rr.locks.lock(run.ID)
	defer unlock()

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, persistence.ErrRunAlreadyExists)
	}

	return rr.store(&runDocument{Run: run.Clone(), NodeRuns: []*models.NodeRun{}})
}

func (rr *RunRepository) CreateNodeRun(_ context.Context, nodeRun *models.NodeRun) error {
	const op = "CreateNodeRun"

	return rr.update(op, nodeRun.WorkflowRunID, func(doc *runDocument) error {
		if doc.nodeRun(nodeRun.NodeID) != nil {
			return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, persistence.ErrRunAlreadyExists)
		}

		doc.NodeRuns = append(doc.NodeRuns, nodeRun.Clone())

		return nil
	})
}

func (rr *RunRepository) UpdateNodeRunStatus(_ context.Context, runID, nodeID string, update models.NodeRunUpdate) error {
	const op = "UpdateNodeRunStatus"

	return rr.update(op, runID, func(doc *runDocument) error {
		nr := doc.nodeRun(nodeID)
		if nr == nil {
			return persistence.NewNodeRunError(op, runID, nodeID, persistence.ErrNodeRunNotFound)
		}

		return persistence.ApplyNodeRunUpdate(nr, update)
	})
}

func (rr *RunRepository) UpdateWorkflowRunStatus(_ context.Context, runID string, status models.RunStatus, errMsg string) error {
	return rr.update("UpdateWorkflowRunStatus", runID, func(doc *runDocument) error {
		return persistence.ApplyWorkflowRunStatus(doc.Run, status, errMsg)
	})
}

func (rr *RunRepository) WorkflowRun(_ context.Context, runID string) (*models.WorkflowRun, error) {
	doc, err := rr.load("WorkflowRun", runID)
	if err != nil {
		return nil, err
	}

	return doc.Run, nil
}

func (rr *RunRepository) NodeRuns(_ context.Context, runID string) ([]*models.NodeRun, error) {
	doc, err := rr.load("NodeRuns", runID)
	if err != nil {
		return nil, err
	}

	return doc.NodeRuns, nil
}

func (rr *RunRepository) ListWorkflowRuns(_ context.Context, limit int) ([]*models.WorkflowRun, error) {
	runsDir := filepath.Join(rr.root, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowRun{}, nil
		}

		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		doc, err := rr.load("ListWorkflowRuns", strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		runs = append(runs, doc.Run)
	}

	return persistence.NewestFirst(runs, limit), nil
}
