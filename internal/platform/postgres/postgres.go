// Package postgres opens the relational store and bootstraps its schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// schema is applied at startup. Uniqueness of business keys is scoped to
// non-deleted rows via partial unique indexes.
const schema = `
CREATE TABLE IF NOT EXISTS declarations (
	id                  BIGSERIAL PRIMARY KEY,
	numero_declaration  TEXT        NOT NULL,
	date_declaration    DATE        NOT NULL,
	nbre_colis_total    INTEGER     NOT NULL,
	poids_total         NUMERIC(14,3) NOT NULL,
	nbre_colis_restant  INTEGER     NOT NULL,
	poids_restant       NUMERIC(14,3) NOT NULL,
	statut_apurement    TEXT,
	date_apurement      DATE,
	regime_id           BIGINT,
	maison_transit_id   BIGINT,
	depositaire_id      BIGINT,
	bureau_sortie_id    BIGINT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at          TIMESTAMPTZ,
	CONSTRAINT declarations_restant_bounds CHECK (
		nbre_colis_restant >= 0 AND nbre_colis_restant <= nbre_colis_total
		AND poids_restant >= 0 AND poids_restant <= poids_total
	)
);
CREATE UNIQUE INDEX IF NOT EXISTS declarations_numero_unique
	ON declarations (numero_declaration) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS mission_orders (
	id                BIGSERIAL PRIMARY KEY,
	number            TEXT        NOT NULL,
	destination       TEXT        NOT NULL,
	itineraire        TEXT,
	date_ordre        DATE        NOT NULL,
	observations      TEXT,
	statut            TEXT        NOT NULL,
	statut_apurement  TEXT        NOT NULL,
	date_apurement    DATE,
	depositaire_id    BIGINT,
	maison_transit_id BIGINT,
	bureau_sortie_id  BIGINT,
	agent_id          BIGINT,
	escouade_id       BIGINT,
	chef_bureau_id    BIGINT      NOT NULL DEFAULT 0,
	chef_section_id   BIGINT      NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at        TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS mission_orders_number_unique
	ON mission_orders (number) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS parcel_allocations (
	id                 BIGSERIAL PRIMARY KEY,
	mission_order_id   BIGINT NOT NULL REFERENCES mission_orders (id),
	declaration_id     BIGINT NOT NULL REFERENCES declarations (id),
	nbre_colis_parcelle INTEGER NOT NULL,
	poids_parcelle     NUMERIC(14,3) NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS parcel_allocations_declaration_idx
	ON parcel_allocations (declaration_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS cargo_lines (
	id               BIGSERIAL PRIMARY KEY,
	mission_order_id BIGINT NOT NULL REFERENCES mission_orders (id),
	declaration_id   BIGINT REFERENCES declarations (id),
	nature           TEXT NOT NULL,
	position_tarifaire TEXT,
	nombre           INTEGER NOT NULL,
	poids            NUMERIC(14,3) NOT NULL,
	valeur           NUMERIC(14,2),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transport_units (
	id               BIGSERIAL PRIMARY KEY,
	mission_order_id BIGINT NOT NULL REFERENCES mission_orders (id),
	kind             TEXT NOT NULL,
	identifier       TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS modification_requests (
	id               BIGSERIAL PRIMARY KEY,
	mission_order_id BIGINT NOT NULL REFERENCES mission_orders (id),
	requester_id     BIGINT NOT NULL,
	reviewer_id      BIGINT,
	status           TEXT NOT NULL,
	type             TEXT NOT NULL,
	reason           TEXT NOT NULL,
	rejection_reason TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	reviewed_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS modification_requests_single_pending
	ON modification_requests (mission_order_id) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS system_parameters (
	key        TEXT PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_events (
	id           BIGSERIAL PRIMARY KEY,
	occurred_at  TIMESTAMPTZ NOT NULL,
	actor_id     BIGINT NOT NULL,
	action       TEXT NOT NULL,
	subject      TEXT NOT NULL,
	subject_id   BIGINT NOT NULL,
	detail       TEXT,
	client_ip    TEXT,
	user_agent   TEXT
);
`

// EnsureSchema applies the schema idempotently.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
