package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const runIndexKey = keyPrefix + "runs"

func runKey(runID string) string {
	return keyPrefix + "run:" + runID
}

// nodeRunsKey is a hash of node id to node run JSON.
func nodeRunsKey(runID string) string {
	return keyPrefix + "run:" + runID + ":nodes"
}

// nodeOrderKey is a list of node ids in creation order.
func nodeOrderKey(runID string) string {
	return keyPrefix + "run:" + runID + ":order"
}

type runRepository struct {
	client *redis.Client
}

func (r *runRepository) CreateWorkflowRun(ctx context.Context, run *models.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	created, err := r.client.SetNX(ctx, runKey(run.ID), data, 0).Result()
	if err != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	if !created {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, persistence.ErrRunAlreadyExists)
	}

	err = r.client.ZAdd(ctx, runIndexKey, redis.Z{Score: score(run.StartedAt), Member: run.ID}).Err()
	if err != nil {
		return persistence.NewRunError("CreateWorkflowRun", run.ID, err)
	}

	return nil
}

func (r *runRepository) CreateNodeRun(ctx context.Context, nodeRun *models.NodeRun) error {
	const op = "CreateNodeRun"

	runID, nodeID := nodeRun.WorkflowRunID, nodeRun.NodeID

	data, err := json.Marshal(nodeRun)
	if err != nil {
		return fmt.Errorf("failed to marshal node run %s: %w", nodeID, err)
	}

	return watch(ctx, r.client, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, runKey(runID)).Result()
		if err != nil {
			return persistence.NewRunError(op, runID, err)
		}

		if exists == 0 {
			return persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
		}

		taken, err := tx.HExists(ctx, nodeRunsKey(runID), nodeID).Result()
		if err != nil {
			return persistence.NewNodeRunError(op, runID, nodeID, err)
		}

		if taken {
			return persistence.NewNodeRunError(op, runID, nodeID, persistence.ErrRunAlreadyExists)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, nodeRunsKey(runID), nodeID, data)
			pipe.RPush(ctx, nodeOrderKey(runID), nodeID)

			return nil
		})

		return err
	}, runKey(runID), nodeRunsKey(runID))
}

func (r *runRepository) UpdateNodeRunStatus(ctx context.Context, runID, nodeID string, update models.NodeRunUpdate) error {
	const op = "UpdateNodeRunStatus"

	return watch(ctx, r.client, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, nodeRunsKey(runID), nodeID).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return persistence.NewNodeRunError(op, runID, nodeID, persistence.ErrNodeRunNotFound)
			}

			return persistence.NewNodeRunError(op, runID, nodeID, err)
		}

		var nodeRun models.NodeRun
		if err := json.Unmarshal(data, &nodeRun); err != nil {
			return fmt.Errorf("failed to unmarshal node run %s: %w", nodeID, err)
		}

		if err := persistence.ApplyNodeRunUpdate(&nodeRun, update); err != nil {
			return err
		}

		next, err := json.Marshal(&nodeRun)
		if err != nil {
			return fmt.Errorf("failed to marshal node run %s: %w", nodeID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, nodeRunsKey(runID), nodeID, next)

			return nil
		})

		return err
	}, nodeRunsKey(runID))
}

func (r *runRepository) UpdateWorkflowRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	const op = "UpdateWorkflowRunStatus"

	return watch(ctx, r.client, func(tx *redis.Tx) error {
		run, err := getRun(ctx, tx, op, runID)
		if err != nil {
			return err
		}

		if err := persistence.ApplyWorkflowRunStatus(run, status, errMsg); err != nil {
			return err
		}

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run %s: %w", runID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, runKey(runID), data, 0)

			return nil
		})

		return err
	}, runKey(runID))
}

func (r *runRepository) WorkflowRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return getRun(ctx, r.client, "WorkflowRun", runID)
}

func (r *runRepository) NodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	if _, err := r.WorkflowRun(ctx, runID); err != nil {
		return nil, err
	}

	order, err := r.client.LRange(ctx, nodeOrderKey(runID), 0, -1).Result()
	if err != nil {
		return nil, persistence.NewRunError("NodeRuns", runID, err)
	}

	byID, err := r.client.HGetAll(ctx, nodeRunsKey(runID)).Result()
	if err != nil {
		return nil, persistence.NewRunError("NodeRuns", runID, err)
	}

	nodeRuns := make([]*models.NodeRun, 0, len(order))

	for _, nodeID := range order {
		data, ok := byID[nodeID]
		if !ok {
			continue
		}

		var nodeRun models.NodeRun
		if err := json.Unmarshal([]byte(data), &nodeRun); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node run %s: %w", nodeID, err)
		}

		nodeRuns = append(nodeRuns, &nodeRun)
	}

	return nodeRuns, nil
}

func (r *runRepository) ListWorkflowRuns(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := r.client.ZRevRange(ctx, runIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(ids))

	for _, id := range ids {
		run, err := r.WorkflowRun(ctx, id)
		if persistence.IsRunNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return persistence.NewestFirst(runs, limit), nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRun(ctx context.Context, client getter, op, runID string) (*models.WorkflowRun, error) {
	data, err := client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewRunError(op, runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError(op, runID, err)
	}

	var run models.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}
