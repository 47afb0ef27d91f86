package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL
// backend. Node outputs live in a jsonb map appended one key at a time, so a
// single execution's writes stay ordered and independent executions never
// touch each other's rows.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id              TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				name            TEXT NOT NULL,
				nodes           JSONB NOT NULL DEFAULT '[]',
				connections     JSONB NOT NULL DEFAULT '[]',
				tags            JSONB NOT NULL DEFAULT '[]',
				created_by      TEXT NOT NULL DEFAULT '',
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_organization ON workflows (organization_id);

			CREATE TABLE IF NOT EXISTS executions (
				id               TEXT PRIMARY KEY,
				workflow_id      TEXT NOT NULL,
				organization_id  TEXT NOT NULL,
				status           TEXT NOT NULL,
				trigger_type     TEXT NOT NULL,
				inputs           JSONB,
				snapshot         JSONB NOT NULL,
				node_outputs     JSONB NOT NULL DEFAULT '{}',
				started_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				finished_at      TIMESTAMP WITH TIME ZONE,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				failed_node_id   TEXT NOT NULL DEFAULT '',
				error            TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id, started_at DESC);

			CREATE TABLE IF NOT EXISTS approvals (
				id               TEXT PRIMARY KEY,
				organization_id  TEXT NOT NULL,
				workflow_id      TEXT NOT NULL,
				execution_id     TEXT NOT NULL,
				node_id          TEXT NOT NULL,
				assigned_user_id TEXT NOT NULL,
				status           TEXT NOT NULL,
				input_preview    JSONB,
				created_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_approvals_org_status ON approvals (organization_id, status);

			CREATE TABLE IF NOT EXISTS schedules (
				id              TEXT PRIMARY KEY,
				workflow_id     TEXT NOT NULL UNIQUE,
				organization_id TEXT NOT NULL,
				kind            TEXT NOT NULL,
				interval_ms     BIGINT NOT NULL DEFAULT 0,
				cron_expression TEXT NOT NULL DEFAULT '',
				next_due_at     TIMESTAMP WITH TIME ZONE,
				last_run_at     TIMESTAMP WITH TIME ZONE,
				enabled         BOOLEAN NOT NULL DEFAULT TRUE,
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
