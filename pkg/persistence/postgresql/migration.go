package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and enrollments
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'inactive')),
				version INTEGER NOT NULL DEFAULT 1,
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				workflow_version INTEGER NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				current_step_index INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'exited', 'failed')),
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				next_wake_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				exit_reason VARCHAR(255) NOT NULL DEFAULT ''
			);

			-- At most one active enrollment per (workflow, entity)
			CREATE UNIQUE INDEX idx_enrollments_active_pair ON enrollments(workflow_id, entity_id) WHERE status = 'active';
			CREATE INDEX idx_enrollments_entity_id ON enrollments(entity_id);
			CREATE INDEX idx_enrollments_due ON enrollments(next_wake_at) WHERE status = 'active';

			CREATE TABLE step_executions (
				enrollment_id VARCHAR(255) NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
				step_index INTEGER NOT NULL,
				outcome VARCHAR(50) NOT NULL,
				next_index INTEGER NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (enrollment_id, step_index)
			);

			-- Lead snapshots
			CREATE TABLE leads (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(50) NOT NULL DEFAULT '',
				stage_id VARCHAR(255) NOT NULL,
				stage_entered_at TIMESTAMP WITH TIME ZONE,
				advisor_id VARCHAR(255) NOT NULL DEFAULT '',
				fields JSONB NOT NULL DEFAULT '{}',
				documents JSONB NOT NULL DEFAULT '[]',
				requirements JSONB NOT NULL DEFAULT '[]',
				payments JSONB NOT NULL DEFAULT '[]',
				form_submissions JSONB NOT NULL DEFAULT '[]',
				tasks JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_leads_stage_id ON leads(stage_id);
			CREATE INDEX idx_leads_created_at ON leads(created_at);

			-- Pipeline stages, triggers and the transition log
			CREATE TABLE stages (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				position INTEGER NOT NULL DEFAULT 0,
				next_stage_id VARCHAR(255) NOT NULL DEFAULT '',
				enroll_workflow_ids TEXT[] NOT NULL DEFAULT '{}',
				admin_user_ids TEXT[] NOT NULL DEFAULT '{}'
			);

			CREATE TABLE stage_triggers (
				id VARCHAR(255) PRIMARY KEY,
				stage_id VARCHAR(255) NOT NULL REFERENCES stages(id),
				trigger_type VARCHAR(50) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				notify_student BOOLEAN NOT NULL DEFAULT false,
				notify_admin BOOLEAN NOT NULL DEFAULT false,
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_stage_triggers_stage_id ON stage_triggers(stage_id);
			CREATE INDEX idx_stage_triggers_type ON stage_triggers(trigger_type) WHERE is_active;

			CREATE TABLE stage_transitions (
				id VARCHAR(255) PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL,
				from_stage_id VARCHAR(255) NOT NULL,
				to_stage_id VARCHAR(255) NOT NULL,
				trigger_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL DEFAULT '',
				at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_stage_transitions_lead_id ON stage_transitions(lead_id);

			-- Notifications
			CREATE TABLE notification_preferences (
				user_id VARCHAR(255) NOT NULL,
				notification_type VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL CHECK (channel IN ('in_app', 'email', 'sms')),
				enabled BOOLEAN NOT NULL DEFAULT true,
				frequency VARCHAR(50) NOT NULL DEFAULT 'immediate',
				quiet_hours JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (user_id, notification_type, channel)
			);

			CREATE TABLE contacts (
				user_id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(50) NOT NULL DEFAULT ''
			);

			CREATE TABLE in_app_notifications (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				type VARCHAR(255) NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				priority VARCHAR(50) NOT NULL DEFAULT 'normal',
				read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_in_app_notifications_user_id ON in_app_notifications(user_id, created_at);

			CREATE TABLE delivery_logs (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				notification_type VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				idempotency_key VARCHAR(512) NOT NULL DEFAULT '',
				at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_delivery_logs_user_id ON delivery_logs(user_id, at);
		`,
	}
}
