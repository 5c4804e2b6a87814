package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
)

// RunRepository records workflow runs and node runs.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const selectWorkflowRun = `
	SELECT
		id
	  , COALESCE(workflow_id, '')
	  , status
	  , started_at
	  , completed_at
	  , error
	FROM workflow_runs
`

const selectNodeRun = `
	SELECT
		node_id
	  , workflow_run_id
	  , node_type
	  , status
	  , started_at
	  , completed_at
	  , inputs
	  , outputs
	  , error
	FROM node_runs
`

func (r *RunRepository) CreateWorkflowRun(ctx context.Context, run *models.WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (id, workflow_id, status, started_at, completed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Status,
		run.StartedAt,
		nullTime(run.CompletedAt),
		run.Error,
	)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return persistence.NewRunError("CreateWorkflowRun", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) CreateNodeRun(ctx context.Context, nodeRun *models.NodeRun) error {
	const op = "CreateNodeRun"

	inputs, outputs, err := marshalBundles(nodeRun)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO node_runs (workflow_run_id, node_id, node_type, status, started_at, completed_at, inputs, outputs, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		nodeRun.WorkflowRunID,
		nodeRun.NodeID,
		nodeRun.NodeType,
		nodeRun.Status,
		nullTime(nodeRun.StartedAt),
		nullTime(nodeRun.CompletedAt),
		inputs,
		outputs,
		nodeRun.Error,
	)
	if err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, persistence.ErrRunAlreadyExists)
		case foreignKeyViolation:
			return persistence.NewRunError(op, nodeRun.WorkflowRunID, persistence.ErrRunNotFound)
		}

		return persistence.NewNodeRunError(op, nodeRun.WorkflowRunID, nodeRun.NodeID, err)
	}

	return nil
}

// UpdateNodeRunStatus locks the node run row, checks the transition and writes it back.
func (r *RunRepository) UpdateNodeRunStatus(ctx context.Context, runID, nodeID string, update models.NodeRunUpdate) error {
	const op = "UpdateNodeRunStatus"

	return r.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, selectNodeRun+" WHERE workflow_run_id = $1 AND node_id = $2 FOR UPDATE", runID, nodeID)

		nodeRun, err := scanNodeRun(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewNodeRunError(op, runID, nodeID, persistence.ErrNodeRunNotFound)
			}

			return persistence.NewNodeRunError(op, runID, nodeID, err)
		}

		err = persistence.ApplyNodeRunUpdate(nodeRun, update)
		if err != nil {
			return err
		}

		inputs, outputs, err := marshalBundles(nodeRun)
		if err != nil {
			return err
		}

		query := `
			UPDATE node_runs
			SET status = $3, started_at = $4, completed_at = $5, inputs = $6, outputs = $7, error = $8
			WHERE workflow_run_id = $1 AND node_id = $2
		`

		_, err = tx.ExecContext(ctx, query,
			runID,
			nodeID,
			nodeRun.Status,
			nullTime(nodeRun.StartedAt),
			nullTime(nodeRun.CompletedAt),
			inputs,
			outputs,
			nodeRun.Error,
		)
		if err != nil {
			return persistence.NewNodeRunError(op, runID, nodeID, err)
		}

		return nil
	})
}

func (r *RunRepository) UpdateWorkflowRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	const op = "UpdateWorkflowRunStatus"

	return r.inTx(ctx, func(tx *sql.Tx) error {
		run, err := scanWorkflowRun(tx.QueryRowContext(ctx, selectWorkflowRun+" WHERE id = $1 FOR UPDATE", runID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
			}

			return persistence.NewRunError(op, runID, err)
		}

		err = persistence.ApplyWorkflowRunStatus(run, status, errMsg)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE workflow_runs SET status = $2, completed_at = $3, error = $4 WHERE id = $1",
			runID, run.Status, nullTime(run.CompletedAt), run.Error,
		)
		if err != nil {
			return persistence.NewRunError(op, runID, err)
		}

		return nil
	})
}

func (r *RunRepository) WorkflowRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := scanWorkflowRun(r.db.QueryRowContext(ctx, selectWorkflowRun+" WHERE id = $1", runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("WorkflowRun", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("WorkflowRun", runID, err)
	}

	return run, nil
}

func (r *RunRepository) NodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	if _, err := r.WorkflowRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectNodeRun+" WHERE workflow_run_id = $1 ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	nodeRuns := make([]*models.NodeRun, 0)

	for rows.Next() {
		nodeRun, err := scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

func (r *RunRepository) ListWorkflowRuns(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	query := selectWorkflowRun + " ORDER BY started_at DESC, id ASC"
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanWorkflowRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run         models.WorkflowRun
		completedAt sql.NullTime
	)

	err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &run.StartedAt, &completedAt, &run.Error)
	if err != nil {
		return nil, err
	}

	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = timePtr(completedAt)

	return &run, nil
}

func scanNodeRun(row scanner) (*models.NodeRun, error) {
	var (
		nodeRun     models.NodeRun
		startedAt   sql.NullTime
		completedAt sql.NullTime
		inputs      []byte
		outputs     []byte
	)

	err := row.Scan(
		&nodeRun.NodeID,
		&nodeRun.WorkflowRunID,
		&nodeRun.NodeType,
		&nodeRun.Status,
		&startedAt,
		&completedAt,
		&inputs,
		&outputs,
		&nodeRun.Error,
	)
	if err != nil {
		return nil, err
	}

	nodeRun.StartedAt = timePtr(startedAt)
	nodeRun.CompletedAt = timePtr(completedAt)

	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &nodeRun.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}

	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &nodeRun.Outputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
		}
	}

	return &nodeRun, nil
}

func marshalBundles(nodeRun *models.NodeRun) (any, any, error) {
	inputs, err := marshalBundle(nodeRun.Inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}

	outputs, err := marshalBundle(nodeRun.Outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}

	return inputs, outputs, nil
}

func marshalBundle(bundle map[string]any) (any, error) {
	if bundle == nil {
		return nil, nil
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}
