package repository

// Schema definitions for the Medoracle audit store.
// Compatible with both SQLite and PostgreSQL.

// schemaRecords is the append-only decision ledger. Rows are inserted once
// and never updated; corrections are new rows with supersedes set.
const schemaRecords = `
CREATE TABLE IF NOT EXISTS decision_records (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    status TEXT NOT NULL,
    reimbursement_amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    pending INTEGER NOT NULL DEFAULT 0,
    supersedes TEXT,
    catalog_version TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    decided_at BIGINT NOT NULL,
    recorded_at BIGINT NOT NULL,
    decision TEXT NOT NULL,
    claim TEXT NOT NULL,
    verdict TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_decision_records_claim ON decision_records(tenant_id, claim_id);
CREATE INDEX IF NOT EXISTS idx_decision_records_status ON decision_records(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_decision_records_recorded ON decision_records(tenant_id, recorded_at);
`

// schemaRuleSources keeps every uploaded rule document, keyed by its
// content version.
const schemaRuleSources = `
CREATE TABLE IF NOT EXISTS rule_sources (
    version TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    created_by TEXT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_sources_created ON rule_sources(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRecords,
		schemaRuleSources,
	}
}
