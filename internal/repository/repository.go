// Package repository persists the formula library and issued compliance
// reports on SQLite (community) or PostgreSQL (pro).
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smellreg/smellreg/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveFormula inserts or replaces a library formula. CreatedAt is kept on
// update and written back to f; UpdatedAt is always refreshed.
func (r *SQLRepository) SaveFormula(ctx context.Context, tenantID string, f *domain.StoredFormula) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: formula id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	f.TenantID = tenantID
	if f.Status == "" {
		f.Status = domain.StatusUnchecked
	}

	tags, err := json.Marshal(nonNil(f.Tags))
	if err != nil {
		return err
	}
	ingredients, err := json.Marshal(f.Ingredients)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO formulas (
			id, tenant_id, name, description, tags, ingredients,
			compliance_status, last_certificate, last_checked, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			tags = excluded.tags,
			ingredients = excluded.ingredients,
			compliance_status = excluded.compliance_status,
			last_certificate = excluded.last_certificate,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, tenantID, f.Name, f.Description, string(tags), string(ingredients),
		string(f.Status), f.LastCertificate, nullTime(f.LastChecked), f.CreatedAt, f.UpdatedAt,
	); err != nil {
		return err
	}

	// An update keeps the stored created_at, not the one passed in.
	var created time.Time
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT created_at FROM formulas WHERE tenant_id = ? AND id = ?`), tenantID, f.ID)
	if err := row.Scan(&created); err != nil {
		return fmt.Errorf("failed to read back formula %s: %w", f.ID, err)
	}
	f.CreatedAt = created.UTC()
	return nil
}

// DuplicateFormula copies sourceID to a new unchecked formula newID. An
// empty name yields "<source name> (copy)".
func (r *SQLRepository) DuplicateFormula(ctx context.Context, tenantID string, sourceID, newID, name string) (*domain.StoredFormula, error) {
	if newID == "" {
		return nil, fmt.Errorf("%w: new formula id is required", ErrInvalidInput)
	}
	src, err := r.GetFormula(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetFormula(ctx, tenantID, newID); err == nil {
		return nil, fmt.Errorf("%w: formula %s already exists", domain.ErrInvalidRequest, newID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if name == "" {
		name = src.Name + " (copy)"
	}
	dup := &domain.StoredFormula{
		ID:          newID,
		Description: src.Description,
		Tags:        append([]string(nil), src.Tags...),
		Formula: domain.Formula{
			Name:        name,
			Ingredients: append([]domain.Ingredient(nil), src.Ingredients...),
		},
		Status: domain.StatusUnchecked,
	}
	if err := r.SaveFormula(ctx, tenantID, dup); err != nil {
		return nil, err
	}
	return dup, nil
}

const formulaColumns = `
	id, tenant_id, name, description, tags, ingredients,
	compliance_status, last_certificate, last_checked, created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanFormula(s scanner) (*domain.StoredFormula, error) {
	var (
		f                         domain.StoredFormula
		description, certificate  sql.NullString
		tags, ingredients, status string
		checked                   sql.NullTime
	)
	if err := s.Scan(
		&f.ID, &f.TenantID, &f.Name, &description, &tags, &ingredients,
		&status, &certificate, &checked, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}

	f.Description = description.String
	f.LastCertificate = certificate.String
	f.Status = domain.ComplianceStatus(status)
	if checked.Valid {
		t := checked.Time.UTC()
		f.LastChecked = &t
	}
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags of formula %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(ingredients), &f.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to parse ingredients of formula %s: %w", f.ID, err)
	}
	return &f, nil
}

func (r *SQLRepository) GetFormula(ctx context.Context, tenantID string, formulaID string) (*domain.StoredFormula, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + formulaColumns + ` FROM formulas WHERE tenant_id = ? AND id = ?`
	f, err := scanFormula(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, formulaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFormulas returns a tenant's formulas ordered by name.
func (r *SQLRepository) ListFormulas(ctx context.Context, tenantID string) ([]*domain.StoredFormula, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + formulaColumns + ` FROM formulas WHERE tenant_id = ? ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	formulas := []*domain.StoredFormula{}
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, f)
	}
	return formulas, rows.Err()
}

// SearchFormulas returns a tenant's formulas whose name, description or
// tags contain query, ignoring case, ordered by name.
func (r *SQLRepository) SearchFormulas(ctx context.Context, tenantID string, query string) ([]*domain.StoredFormula, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return r.ListFormulas(ctx, tenantID)
	}

	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	stmt := `SELECT ` + formulaColumns + ` FROM formulas
		WHERE tenant_id = ?
		  AND (LOWER(name) LIKE ? ESCAPE '\'
		    OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\'
		    OR LOWER(tags) LIKE ? ESCAPE '\')
		ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(stmt), tenantID, pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	formulas := []*domain.StoredFormula{}
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, f)
	}
	return formulas, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteFormula removes a formula. Reports issued for it are kept.
func (r *SQLRepository) DeleteFormula(ctx context.Context, tenantID string, formulaID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM formulas WHERE tenant_id = ? AND id = ?`), tenantID, formulaID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// UpdateFormulaStatus records the outcome of the latest check of a formula.
func (r *SQLRepository) UpdateFormulaStatus(ctx context.Context, tenantID string, formulaID string, status domain.ComplianceStatus, certificate string, checkedAt time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE formulas
		SET compliance_status = ?, last_certificate = ?, last_checked = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(status), certificate, checkedAt.UTC(), time.Now().UTC(), tenantID, formulaID,
	)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// SaveReport stores an issued report. Reports are immutable: saving a
// certificate number twice fails.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.ComplianceReport) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if report == nil || report.CertificateNumber == "" {
		return fmt.Errorf("%w: report certificate is required", ErrInvalidInput)
	}

	report.TenantID = tenantID
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.CertificateNumber, err)
	}

	compliant := 0
	if report.IsCompliant {
		compliant = 1
	}

	query := `
		INSERT INTO reports (
			certificate, tenant_id, id, request_id, formula_id, formula_name,
			fingerprint, is_compliant, reference_revision, generated_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.CertificateNumber, tenantID, report.ID, report.RequestID, report.FormulaID, report.FormulaName,
		report.Fingerprint, compliant, report.ReferenceRevision, report.GeneratedAt.UTC(), string(body),
	)
	return err
}

func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, certificate string) (*domain.ComplianceReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return r.oneReport(ctx, `SELECT body FROM reports WHERE tenant_id = ? AND certificate = ?`, tenantID, certificate)
}

// GetReportByRequestID returns the report produced for an async request.
func (r *SQLRepository) GetReportByRequestID(ctx context.Context, tenantID string, requestID string) (*domain.ComplianceReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if requestID == "" {
		return nil, ErrNotFound
	}
	return r.oneReport(ctx,
		`SELECT body FROM reports WHERE tenant_id = ? AND request_id = ? ORDER BY generated_at DESC LIMIT 1`,
		tenantID, requestID)
}

// ListReportsByFormula returns a formula's reports, newest first.
func (r *SQLRepository) ListReportsByFormula(ctx context.Context, tenantID string, formulaID string) ([]*domain.ComplianceReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT body FROM reports WHERE tenant_id = ? AND formula_id = ? ORDER BY generated_at DESC, certificate DESC`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, formulaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []*domain.ComplianceReport{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		report, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (r *SQLRepository) oneReport(ctx context.Context, query string, args ...any) (*domain.ComplianceReport, error) {
	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReport(body)
}

func decodeReport(body string) (*domain.ComplianceReport, error) {
	var report domain.ComplianceReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to parse stored report: %w", err)
	}
	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
