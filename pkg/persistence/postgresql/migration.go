package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				owner VARCHAR(255),
				schedule VARCHAR(255),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_workflow_runs_started_at ON workflow_runs(started_at DESC);
			CREATE INDEX idx_workflow_runs_workflow_id ON workflow_runs(workflow_id);

			CREATE TABLE node_runs (
				seq BIGSERIAL,
				workflow_run_id VARCHAR(255) NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				inputs JSONB,
				outputs JSONB,
				error TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (workflow_run_id, node_id)
			);

			CREATE INDEX idx_node_runs_seq ON node_runs(workflow_run_id, seq);
		`,
	}
}
