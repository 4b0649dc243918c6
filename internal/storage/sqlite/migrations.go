package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    is_verified INTEGER NOT NULL DEFAULT 0,
    active_group TEXT,
    outstanding_count INTEGER NOT NULL DEFAULT 0,
    payout_destination TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_by TEXT NOT NULL,
    contribution_amount REAL NOT NULL,
    contribution_interval TEXT NOT NULL,
    next_payout_index INTEGER NOT NULL DEFAULT 0,
    current_round INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    joined_at INTEGER NOT NULL,
    reliability_score INTEGER NOT NULL,
    penalties INTEGER NOT NULL,
    missed_rounds INTEGER NOT NULL,
    last_contribution_round INTEGER NOT NULL,
    total_paid REAL NOT NULL,
    is_active INTEGER NOT NULL,
    is_banned INTEGER NOT NULL,
    PRIMARY KEY (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS payout_order (
    group_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (group_id, position),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS rounds (
    group_id TEXT NOT NULL,
    round_number INTEGER NOT NULL,
    beneficiary TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    due_date INTEGER NOT NULL,
    closed_at INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    payout_attempted_at INTEGER NOT NULL DEFAULT 0,
    payout_ref TEXT NOT NULL DEFAULT '',
    payout_error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (group_id, round_number),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contributions (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    round INTEGER NOT NULL,
    amount REAL NOT NULL,
    status TEXT NOT NULL,
    due_date INTEGER NOT NULL,
    paid_at INTEGER NOT NULL DEFAULT 0,
    penalized INTEGER NOT NULL DEFAULT 0,
    payment_ref TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_contributions_group_round ON contributions(group_id, round);
CREATE INDEX IF NOT EXISTS idx_contributions_member ON contributions(group_id, member_id);
CREATE INDEX IF NOT EXISTS idx_contributions_due ON contributions(status, due_date);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
