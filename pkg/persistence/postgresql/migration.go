package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				version INTEGER NOT NULL,
				is_latest BOOLEAN NOT NULL DEFAULT false,
				is_published BOOLEAN NOT NULL DEFAULT false,
				string_data TEXT NOT NULL,
				materializer_name VARCHAR(100) NOT NULL,
				activation_strategy VARCHAR(50) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_definition_id ON workflow_definitions(definition_id, version);
			CREATE INDEX idx_workflow_definitions_published ON workflow_definitions(is_published);

			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				definition_version INTEGER NOT NULL,
				correlation_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_definition ON workflow_instances(definition_id, definition_version);
			CREATE INDEX idx_workflow_instances_correlation_id ON workflow_instances(correlation_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
		`,
		2: `
			CREATE TABLE bookmarks (
				bookmark_id VARCHAR(255) PRIMARY KEY,
				hash VARCHAR(64) NOT NULL,
				activity_type_name VARCHAR(255) NOT NULL,
				workflow_instance_id VARCHAR(255) NOT NULL,
				correlation_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_bookmarks_hash ON bookmarks(hash);
			CREATE INDEX idx_bookmarks_instance ON bookmarks(workflow_instance_id);

			CREATE TABLE triggers (
				id VARCHAR(255) PRIMARY KEY,
				workflow_definition_id VARCHAR(255) NOT NULL,
				activity_id VARCHAR(255) NOT NULL,
				activity_type_name VARCHAR(255) NOT NULL,
				hash VARCHAR(64) NOT NULL,
				payload TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_triggers_hash ON triggers(hash);
			CREATE INDEX idx_triggers_definition ON triggers(workflow_definition_id);
			CREATE INDEX idx_triggers_activity_type ON triggers(activity_type_name);
		`,
	}
}
