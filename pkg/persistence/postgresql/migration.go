package postgresql

// migrations returns the versioned schema DDL applied by the migration manager.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				workflow_group_id TEXT NOT NULL,
				context_schema JSONB,
				owner TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS workflows_group_idx ON workflows (workflow_group_id);
			CREATE INDEX IF NOT EXISTS workflows_status_idx ON workflows (status) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS workflow_nodes (
				id TEXT NOT NULL,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				node_type TEXT NOT NULL,
				spec JSONB NOT NULL,
				next_node_id TEXT,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				position INTEGER NOT NULL DEFAULT 0,
				deleted_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE IF NOT EXISTS node_templates (
				id TEXT PRIMARY KEY,
				code TEXT NOT NULL UNIQUE,
				node_type TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS trigger_instances (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id),
				idempotency_key TEXT NOT NULL,
				trigger_context JSONB,
				cursor_node_id TEXT,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				available_at TIMESTAMP WITH TIME ZONE NOT NULL,
				failure_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CONSTRAINT trigger_instances_idempotency UNIQUE (workflow_id, idempotency_key)
			);

			CREATE INDEX IF NOT EXISTS trigger_instances_due_idx
				ON trigger_instances (available_at)
				WHERE status IN ('pending', 'waiting');

			CREATE INDEX IF NOT EXISTS trigger_instances_running_idx
				ON trigger_instances (available_at)
				WHERE status = 'running';

			CREATE INDEX IF NOT EXISTS trigger_instances_workflow_idx
				ON trigger_instances (workflow_id, status);
		`,
	}
}
