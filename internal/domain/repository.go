package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Rule and tag-rule bodies are stored as plain JSON matching the domain
// shapes; no other wire format is owned by the engine.
type Repository interface {
	// Lead operations
	SaveLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, leadID string) (*Lead, error)
	GetLeadsByEmail(ctx context.Context, email string, since time.Time) ([]*Lead, error)

	// Qualification rule operations
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// Tag rule operations
	SaveTagRule(ctx context.Context, rule *TagRule) error
	GetTagRule(ctx context.Context, ruleID string) (*TagRule, error)
	ListTagRules(ctx context.Context) ([]*TagRule, error)
	DeleteTagRule(ctx context.Context, ruleID string) error

	// Decision results
	SaveDecision(ctx context.Context, decision *Decision) error
	GetDecision(ctx context.Context, decisionID string) (*Decision, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
