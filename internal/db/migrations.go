package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id              BIGSERIAL PRIMARY KEY,
		vin             TEXT NOT NULL,
		make            TEXT,
		model           TEXT,
		year            TEXT,
		country         TEXT,
		manufacturer    TEXT,
		vehicle_type    TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_vin ON vehicles(vin);`,
	`CREATE TABLE IF NOT EXISTS scan_events (
		id              BIGSERIAL PRIMARY KEY,
		vehicle_id      BIGINT REFERENCES vehicles(id),
		session_id      TEXT,
		source          TEXT,
		mode            TEXT NOT NULL,
		vin             TEXT NOT NULL,
		raw_text        TEXT,
		confidence      NUMERIC(5,2),
		candidate_count INT,
		raw_payload     JSONB,
		scanned_at      TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_scan_events_vehicle_id ON scan_events(vehicle_id);`,
	`CREATE INDEX IF NOT EXISTS idx_scan_events_scanned_at ON scan_events(scanned_at);`,
	`CREATE TABLE IF NOT EXISTS watch_lists (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		description TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_watch_lists_name ON watch_lists(name);`,
	`CREATE TABLE IF NOT EXISTS watch_list_items (
		list_id     BIGINT REFERENCES watch_lists(id),
		vehicle_id  BIGINT REFERENCES vehicles(id),
		note        TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (list_id, vehicle_id)
	);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM watch_lists WHERE name = 'stolen_vehicles') THEN
			INSERT INTO watch_lists (name, type, description) VALUES ('stolen_vehicles', 'ALERT', 'Vehicles reported stolen');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM watch_lists WHERE name = 'fleet') THEN
			INSERT INTO watch_lists (name, type, description) VALUES ('fleet', 'INFO', 'Known fleet vehicles');
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
