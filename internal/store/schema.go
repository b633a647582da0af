package store

// Schema holds the idempotent DDL applied at startup by the Postgres store
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS sensors (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'unassigned',
		status TEXT NOT NULL DEFAULT 'active',
		last_seen TIMESTAMPTZ,
		last_battery_pct DOUBLE PRECISION,
		bay_id TEXT,
		zone_id TEXT,
		site_id TEXT,
		gateway_id TEXT,
		installed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gateways (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		last_seen TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS zones (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		hourly_rate DOUBLE PRECISION,
		occupied_bays INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS bays (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		sensor_id UUID REFERENCES sensors(id),
		status TEXT NOT NULL DEFAULT 'unknown',
		occupied_since TIMESTAMPTZ,
		last_heartbeat TIMESTAMPTZ,
		geometry JSONB,
		PRIMARY KEY (tenant_id, id),
		CHECK ((status = 'occupied') = (occupied_since IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS bays_zone_idx ON bays (tenant_id, zone_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bays_sensor_idx ON bays (sensor_id) WHERE sensor_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		sensor_id UUID NOT NULL REFERENCES sensors(id),
		device_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		rssi DOUBLE PRECISION,
		snr DOUBLE PRECISION,
		battery_pct DOUBLE PRECISION,
		gateway_id TEXT,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		applied_at TIMESTAMPTZ,
		UNIQUE (tenant_id, source, sequence)
	)`,
	// Rows from schemas without applied_at were applied when inserted
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS applied_at TIMESTAMPTZ DEFAULT NOW()`,
	`ALTER TABLE events ALTER COLUMN applied_at DROP DEFAULT`,
	`CREATE INDEX IF NOT EXISTS events_sensor_ts_idx ON events (sensor_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		row_index BIGINT NOT NULL,
		reason TEXT NOT NULL,
		raw TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS dead_letters_tenant_idx ON dead_letters (tenant_id, created_at DESC)`,
	// One dead letter per batch row; live rejects carry row_index 0
	`DELETE FROM dead_letters a USING dead_letters b
		WHERE a.row_index > 0
			AND a.tenant_id = b.tenant_id AND a.source = b.source AND a.row_index = b.row_index
			AND a.ctid > b.ctid`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dead_letters_row_idx
		ON dead_letters (tenant_id, source, row_index) WHERE row_index > 0`,
	`CREATE TABLE IF NOT EXISTS occupancy_records (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		bay_id TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		sensor_id UUID NOT NULL,
		event_id UUID NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER,
		revenue DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS occupancy_records_bay_idx ON occupancy_records (tenant_id, bay_id, at DESC)`,
	`CREATE TABLE IF NOT EXISTS tenant_thresholds (
		tenant_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		overrides JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		severity_rank SMALLINT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		first_detected_at TIMESTAMPTZ NOT NULL,
		last_detected_at TIMESTAMPTZ NOT NULL,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by TEXT,
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT,
		assigned_to TEXT,
		sla_due_at TIMESTAMPTZ NOT NULL
	)`,
	// At most one active alert per (tenant, entity, type)
	`CREATE UNIQUE INDEX IF NOT EXISTS alerts_active_key_idx
		ON alerts (tenant_id, entity_kind, entity_id, type)
		WHERE status IN ('OPEN', 'ACKNOWLEDGED')`,
	`CREATE INDEX IF NOT EXISTS alerts_listing_idx ON alerts (tenant_id, severity_rank, last_detected_at DESC)`,
}
