package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_template_steps (
				id TEXT PRIMARY KEY,
				template_id TEXT NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL,
				name TEXT NOT NULL,
				CONSTRAINT uq_template_step_order UNIQUE (template_id, step_order)
			);

			CREATE TABLE workflow_step_conditions (
				id TEXT PRIMARY KEY,
				template_step_id TEXT NOT NULL REFERENCES workflow_template_steps(id) ON DELETE CASCADE,
				label_en TEXT NOT NULL,
				label_fr TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL
			);

			CREATE TABLE workflow_step_automations (
				id TEXT PRIMARY KEY,
				template_step_id TEXT NOT NULL REFERENCES workflow_template_steps(id) ON DELETE CASCADE,
				trigger TEXT NOT NULL,
				type TEXT NOT NULL,
				config JSONB
			);

			CREATE TABLE condition_templates (
				id TEXT PRIMARY KEY,
				label_en TEXT NOT NULL,
				label_fr TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL,
				source_type TEXT NOT NULL,
				applies_when JSONB,
				step_order INTEGER,
				deadline_ref TEXT NOT NULL DEFAULT '',
				deadline_offset_days INTEGER NOT NULL DEFAULT 0,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				is_default BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE transactions (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				workflow_template_id TEXT NOT NULL REFERENCES workflow_templates(id),
				current_step_id TEXT,
				status TEXT NOT NULL,
				owner TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE transaction_steps (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				entered_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				CONSTRAINT uq_transaction_step_order UNIQUE (transaction_id, step_order)
			);

			CREATE INDEX idx_transaction_steps_transaction ON transaction_steps(transaction_id);

			CREATE TABLE transaction_profiles (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(id) ON DELETE CASCADE,
				property_type TEXT NOT NULL DEFAULT '',
				rural BOOLEAN NOT NULL DEFAULT FALSE,
				financed BOOLEAN NOT NULL DEFAULT FALSE,
				has_well BOOLEAN NOT NULL DEFAULT FALSE,
				has_septic BOOLEAN NOT NULL DEFAULT FALSE,
				private_access BOOLEAN NOT NULL DEFAULT FALSE,
				condo_docs BOOLEAN NOT NULL DEFAULT FALSE,
				locked BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE offers (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
				status TEXT NOT NULL,
				amount BIGINT NOT NULL,
				counter_of TEXT REFERENCES offers(id),
				expires_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_offers_transaction ON offers(transaction_id);

			CREATE TABLE conditions (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
				transaction_step_id TEXT REFERENCES transaction_steps(id),
				offer_id TEXT REFERENCES offers(id),
				-- template_id points at either a condition_templates row or a
				-- workflow_step_conditions row, so no foreign key here.
				template_id TEXT,
				label_en TEXT NOT NULL,
				label_fr TEXT NOT NULL DEFAULT '',
				level TEXT,
				is_blocking BOOLEAN NOT NULL DEFAULT FALSE,
				source_type TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				resolution_type TEXT NOT NULL DEFAULT '',
				note TEXT NOT NULL DEFAULT '',
				archived BOOLEAN NOT NULL DEFAULT FALSE,
				archived_step INTEGER,
				step_when_created INTEGER,
				step_when_resolved INTEGER,
				escaped_without_proof BOOLEAN NOT NULL DEFAULT FALSE,
				escape_reason TEXT NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_conditions_transaction ON conditions(transaction_id);
			CREATE INDEX idx_conditions_step ON conditions(transaction_step_id);
			CREATE INDEX idx_conditions_due_date ON conditions(due_date) WHERE due_date IS NOT NULL;
			CREATE UNIQUE INDEX idx_conditions_transaction_template_unique
				ON conditions(transaction_id, template_id)
				WHERE template_id IS NOT NULL;

			CREATE TABLE condition_events (
				id TEXT PRIMARY KEY,
				condition_id TEXT NOT NULL REFERENCES conditions(id) ON DELETE CASCADE,
				event_type TEXT NOT NULL,
				actor TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_condition_events_condition ON condition_events(condition_id);
		`,
	}
}
