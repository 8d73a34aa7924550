package repository

// Schema definitions, compatible with both SQLite and PostgreSQL.

const schemaFormulas = `
CREATE TABLE IF NOT EXISTS formulas (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    tags TEXT NOT NULL,
    ingredients TEXT NOT NULL,
    compliance_status TEXT NOT NULL DEFAULT 'unchecked',
    last_certificate TEXT,
    last_checked TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_formulas_name ON formulas(tenant_id, name);
CREATE INDEX IF NOT EXISTS idx_formulas_status ON formulas(tenant_id, compliance_status);
`

// schemaReports keeps every issued report. The full report is stored as
// JSON in body; the other columns exist for lookup.
const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    certificate TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    request_id TEXT,
    formula_id TEXT,
    formula_name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    is_compliant INTEGER NOT NULL,
    reference_revision TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    body TEXT NOT NULL,
    PRIMARY KEY (tenant_id, certificate)
);

CREATE INDEX IF NOT EXISTS idx_reports_request ON reports(tenant_id, request_id);
CREATE INDEX IF NOT EXISTS idx_reports_formula ON reports(tenant_id, formula_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_reports_fingerprint ON reports(tenant_id, fingerprint);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFormulas,
		schemaReports,
	}
}
