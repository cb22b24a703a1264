// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openleads/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

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

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
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

// SaveLead stores a captured lead.
func (r *SQLRepository) SaveLead(ctx context.Context, lead *domain.Lead) error {
	if lead.ID == "" {
		return fmt.Errorf("%w: lead id is required", ErrInvalidInput)
	}

	features, _ := json.Marshal(lead.Features)

	query := `
		INSERT INTO leads (
			id, widget_id, email, name, phone, source_channel,
			features, submitted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		lead.ID, lead.WidgetID, lead.Email, lead.Name, lead.Phone,
		lead.SourceChannel, string(features),
		lead.SubmittedAt, lead.CreatedAt,
	)
	return err
}

// GetLead retrieves a lead by ID.
func (r *SQLRepository) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	query := `
		SELECT id, widget_id, email, name, phone, source_channel,
			   features, submitted_at, created_at
		FROM leads
		WHERE id = ?
	`

	var lead domain.Lead
	var features string

	err := r.db.QueryRowContext(ctx, r.rebind(query), leadID).Scan(
		&lead.ID, &lead.WidgetID, &lead.Email, &lead.Name, &lead.Phone,
		&lead.SourceChannel, &features,
		&lead.SubmittedAt, &lead.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if features != "" {
		json.Unmarshal([]byte(features), &lead.Features)
	}

	return &lead, nil
}

// GetLeadsByEmail retrieves leads for an email address submitted since the
// given time, newest first. Used for submission velocity checks.
func (r *SQLRepository) GetLeadsByEmail(ctx context.Context, email string, since time.Time) ([]*domain.Lead, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	query := `
		SELECT id, widget_id, email, name, phone, source_channel,
			   features, submitted_at, created_at
		FROM leads
		WHERE email = ? AND submitted_at >= ?
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), email, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		var lead domain.Lead
		var features string

		if err := rows.Scan(
			&lead.ID, &lead.WidgetID, &lead.Email, &lead.Name, &lead.Phone,
			&lead.SourceChannel, &features,
			&lead.SubmittedAt, &lead.CreatedAt,
		); err != nil {
			return nil, err
		}

		if features != "" {
			json.Unmarshal([]byte(features), &lead.Features)
		}

		leads = append(leads, &lead)
	}

	return leads, rows.Err()
}

// SaveRule stores a qualification rule. Re-saving an existing ID updates
// the stored body in place.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (
			id, name, enabled, priority, body, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			priority = excluded.priority,
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, enabled, rule.Priority, string(body),
		now, now,
	)
	return err
}

// GetRule retrieves a qualification rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT body FROM rules WHERE id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rule domain.Rule
	if err := json.Unmarshal([]byte(body), &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule %s: %w", ruleID, err)
	}

	return &rule, nil
}

// ListRules retrieves all stored qualification rules, highest priority first.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT body FROM rules ORDER BY priority DESC, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}

		var rule domain.Rule
		if err := json.Unmarshal([]byte(body), &rule); err != nil {
			return nil, fmt.Errorf("failed to parse stored rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteRule removes a qualification rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	query := `DELETE FROM rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveTagRule stores a tag rule. Re-saving an existing ID updates in place.
func (r *SQLRepository) SaveTagRule(ctx context.Context, rule *domain.TagRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: tag rule id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal tag rule: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO tag_rules (
			id, name, category, enabled, priority, body, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			enabled = excluded.enabled,
			priority = excluded.priority,
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, string(rule.Category), enabled, rule.Priority,
		string(body), now, now,
	)
	return err
}

// GetTagRule retrieves a tag rule by ID.
func (r *SQLRepository) GetTagRule(ctx context.Context, ruleID string) (*domain.TagRule, error) {
	query := `SELECT body FROM tag_rules WHERE id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rule domain.TagRule
	if err := json.Unmarshal([]byte(body), &rule); err != nil {
		return nil, fmt.Errorf("failed to parse tag rule %s: %w", ruleID, err)
	}

	return &rule, nil
}

// ListTagRules retrieves all stored tag rules, highest priority first.
func (r *SQLRepository) ListTagRules(ctx context.Context) ([]*domain.TagRule, error) {
	query := `SELECT body FROM tag_rules ORDER BY priority DESC, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TagRule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}

		var rule domain.TagRule
		if err := json.Unmarshal([]byte(body), &rule); err != nil {
			return nil, fmt.Errorf("failed to parse stored tag rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteTagRule removes a tag rule.
func (r *SQLRepository) DeleteTagRule(ctx context.Context, ruleID string) error {
	query := `DELETE FROM tag_rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveDecision stores a pipeline decision.
func (r *SQLRepository) SaveDecision(ctx context.Context, decision *domain.Decision) error {
	if decision.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}

	qualification, _ := json.Marshal(decision.Qualification)
	tags, _ := json.Marshal(decision.Tags)
	metadata, _ := json.Marshal(decision.Metadata)

	qualified := 0
	var score float64
	if decision.Qualification != nil {
		if decision.Qualification.Qualified {
			qualified = 1
		}
		score = decision.Qualification.Score
	}

	query := `
		INSERT INTO decisions (
			id, lead_id, qualified, score, qualification, tags, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.ID, decision.LeadID, qualified, score,
		string(qualification), string(tags), string(metadata),
		decision.Timestamp,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := `
		SELECT id, lead_id, qualification, tags, metadata, timestamp
		FROM decisions
		WHERE id = ?
	`

	var d domain.Decision
	var qualification, tags, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), decisionID).Scan(
		&d.ID, &d.LeadID, &qualification, &tags, &metadata, &d.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(qualification), &d.Qualification)
	if tags != "" {
		json.Unmarshal([]byte(tags), &d.Tags)
	}
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
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

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
