package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				org_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_trigger ON workflows(trigger_type, status);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
		`,
		2: `
			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				contact_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'exited', 'failed')),
				current_step_id VARCHAR(255),
				context JSONB DEFAULT '{}',
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				next_action_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				failure_reason TEXT
			);

			-- One active run per contact per workflow.
			CREATE UNIQUE INDEX idx_enrollments_one_active
				ON enrollments(workflow_id, contact_id)
				WHERE status = 'active';

			CREATE INDEX idx_enrollments_workflow ON enrollments(workflow_id);
			CREATE INDEX idx_enrollments_contact ON enrollments(contact_id);
			CREATE INDEX idx_enrollments_status ON enrollments(status);
		`,
		3: `
			CREATE TABLE work_items (
				id UUID PRIMARY KEY,
				enrollment_id UUID NOT NULL REFERENCES enrollments(id),
				step_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'leased', 'done', 'failed')),
				lease_expires TIMESTAMP WITH TIME ZONE,
				leased_by VARCHAR(255)
			);

			-- At most one live item per enrollment.
			CREATE UNIQUE INDEX idx_work_items_one_live
				ON work_items(enrollment_id)
				WHERE status IN ('pending', 'leased');

			CREATE INDEX idx_work_items_due ON work_items(status, due_at);
		`,
	}
}
