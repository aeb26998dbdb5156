package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a status update would violate the
// monotonic pending -> in_progress -> terminal ordering.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrSettingsMissing is returned when the aws_settings row has not been
// configured yet.
var ErrSettingsMissing = errors.New("aws settings not configured")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateDeployment persists a new deployment record.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = DeploymentStatusPending
	}

	query := `
		INSERT INTO deployments (id, target_account, resource_type, resource_id, action, status, requested_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.TargetAccount,
		d.ResourceType,
		d.ResourceID,
		d.Action,
		d.Status,
		d.RequestedBy,
		d.CreatedAt,
		d.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT id, target_account, resource_type, resource_id, action, status, requested_by,
		       started_at, completed_at, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`

	d := &Deployment{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID,
		&d.TargetAccount,
		&d.ResourceType,
		&d.ResourceID,
		&d.Action,
		&d.Status,
		&d.RequestedBy,
		&d.StartedAt,
		&d.CompletedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// ListDeployments lists deployments newest-first with pagination.
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `
		SELECT id, target_account, resource_type, resource_id, action, status, requested_by,
		       started_at, completed_at, created_at, updated_at
		FROM deployments
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d := &Deployment{}
		err := rows.Scan(
			&d.ID,
			&d.TargetAccount,
			&d.ResourceType,
			&d.ResourceID,
			&d.Action,
			&d.Status,
			&d.RequestedBy,
			&d.StartedAt,
			&d.CompletedAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

// SetDeploymentStatus advances a deployment's status. The WHERE clause
// enforces the monotonic ordering: in_progress only from pending, terminal
// only from in_progress. A deployment never re-enters pending.
func (s *SQLiteStore) SetDeploymentStatus(ctx context.Context, id string, status DeploymentStatus) error {
	var query string
	now := time.Now().UTC()

	switch status {
	case DeploymentStatusInProgress:
		query = `
			UPDATE deployments
			SET status = ?, started_at = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'
		`
	case DeploymentStatusCompleted, DeploymentStatusFailed:
		query = `
			UPDATE deployments
			SET status = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'in_progress'
		`
	default:
		return fmt.Errorf("status %q: %w", status, ErrInvalidTransition)
	}

	result, err := s.db.ExecContext(ctx, query, status, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish a missing record from a disallowed transition.
		if _, getErr := s.GetDeployment(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("deployment %s to %q: %w", id, status, ErrInvalidTransition)
	}

	return nil
}

// AppendDeploymentLog appends a log entry. Entries are never mutated or
// deleted.
func (s *SQLiteStore) AppendDeploymentLog(ctx context.Context, entry *DeploymentLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deployment_logs (deployment_id, level, message, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.DeploymentID,
		entry.Level,
		entry.Message,
		entry.Details,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append deployment log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get log entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// GetDeploymentLogs retrieves all log entries for a deployment in append
// order.
func (s *SQLiteStore) GetDeploymentLogs(ctx context.Context, deploymentID string) ([]*DeploymentLog, error) {
	query := `
		SELECT id, deployment_id, level, message, details, created_at
		FROM deployment_logs
		WHERE deployment_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment logs: %w", err)
	}
	defer rows.Close()

	entries := []*DeploymentLog{}
	for rows.Next() {
		entry := &DeploymentLog{}
		err := rows.Scan(
			&entry.ID,
			&entry.DeploymentID,
			&entry.Level,
			&entry.Message,
			&entry.Details,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}

// CreateRole persists a role definition.
func (s *SQLiteStore) CreateRole(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	arns, err := json.Marshal(role.PolicyArns)
	if err != nil {
		return fmt.Errorf("failed to encode policy arns: %w", err)
	}

	query := `
		INSERT INTO roles (id, name, description, trust_policy, max_session_duration, policy_arns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.TrustPolicy,
		role.MaxSessionDuration,
		string(arns),
		role.CreatedAt,
		role.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	return nil
}

// GetRole retrieves a role definition with its attached policy ARNs.
func (s *SQLiteStore) GetRole(ctx context.Context, id string) (*Role, error) {
	query := `
		SELECT id, name, description, trust_policy, max_session_duration, policy_arns, created_at, updated_at
		FROM roles
		WHERE id = ?
	`

	role := &Role{}
	var arns string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.TrustPolicy,
		&role.MaxSessionDuration,
		&arns,
		&role.CreatedAt,
		&role.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(arns), &role.PolicyArns); err != nil {
		return nil, fmt.Errorf("failed to decode policy arns: %w", err)
	}

	return role, nil
}

// ListRoles lists role definitions with pagination.
func (s *SQLiteStore) ListRoles(ctx context.Context, limit, offset int) ([]*Role, error) {
	query := `
		SELECT id, name, description, trust_policy, max_session_duration, policy_arns, created_at, updated_at
		FROM roles
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role := &Role{}
		var arns string
		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&role.TrustPolicy,
			&role.MaxSessionDuration,
			&arns,
			&role.CreatedAt,
			&role.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(arns), &role.PolicyArns); err != nil {
			return nil, fmt.Errorf("failed to decode policy arns: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return roles, nil
}

// CreatePermissionSet persists a permission-set definition.
func (s *SQLiteStore) CreatePermissionSet(ctx context.Context, ps *PermissionSet) error {
	now := time.Now().UTC()
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = now
	}
	ps.UpdatedAt = now

	arns, err := json.Marshal(ps.ManagedPolicyArns)
	if err != nil {
		return fmt.Errorf("failed to encode managed policy arns: %w", err)
	}

	query := `
		INSERT INTO permission_sets (id, name, description, session_duration, managed_policy_arns, inline_policy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		ps.ID,
		ps.Name,
		ps.Description,
		ps.SessionDuration,
		string(arns),
		ps.InlinePolicy,
		ps.CreatedAt,
		ps.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create permission set: %w", err)
	}

	return nil
}

// GetPermissionSet retrieves a permission-set definition with its policies.
func (s *SQLiteStore) GetPermissionSet(ctx context.Context, id string) (*PermissionSet, error) {
	query := `
		SELECT id, name, description, session_duration, managed_policy_arns, inline_policy, created_at, updated_at
		FROM permission_sets
		WHERE id = ?
	`

	ps := &PermissionSet{}
	var arns string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ps.ID,
		&ps.Name,
		&ps.Description,
		&ps.SessionDuration,
		&arns,
		&ps.InlinePolicy,
		&ps.CreatedAt,
		&ps.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission set %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission set: %w", err)
	}

	if err := json.Unmarshal([]byte(arns), &ps.ManagedPolicyArns); err != nil {
		return nil, fmt.Errorf("failed to decode managed policy arns: %w", err)
	}

	return ps, nil
}

// ListPermissionSets lists permission-set definitions with pagination.
func (s *SQLiteStore) ListPermissionSets(ctx context.Context, limit, offset int) ([]*PermissionSet, error) {
	query := `
		SELECT id, name, description, session_duration, managed_policy_arns, inline_policy, created_at, updated_at
		FROM permission_sets
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission sets: %w", err)
	}
	defer rows.Close()

	sets := []*PermissionSet{}
	for rows.Next() {
		ps := &PermissionSet{}
		var arns string
		err := rows.Scan(
			&ps.ID,
			&ps.Name,
			&ps.Description,
			&ps.SessionDuration,
			&arns,
			&ps.InlinePolicy,
			&ps.CreatedAt,
			&ps.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission set: %w", err)
		}
		if err := json.Unmarshal([]byte(arns), &ps.ManagedPolicyArns); err != nil {
			return nil, fmt.Errorf("failed to decode managed policy arns: %w", err)
		}
		sets = append(sets, ps)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission sets: %w", err)
	}

	return sets, nil
}

// GetAwsSettings reads the single global settings row.
func (s *SQLiteStore) GetAwsSettings(ctx context.Context) (*AwsSettings, error) {
	query := `
		SELECT region, access_key_id, secret_access_key, cross_account_role, sso_instance_arn, sns_topic_arn, updated_at
		FROM aws_settings
		WHERE id = 1
	`

	settings := &AwsSettings{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&settings.Region,
		&settings.AccessKeyID,
		&settings.SecretAccessKey,
		&settings.CrossAccountRole,
		&settings.SSOInstanceArn,
		&settings.SNSTopicArn,
		&settings.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aws settings: %w", err)
	}

	return settings, nil
}

// PutAwsSettings creates or replaces the single global settings row.
func (s *SQLiteStore) PutAwsSettings(ctx context.Context, settings *AwsSettings) error {
	settings.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO aws_settings (id, region, access_key_id, secret_access_key, cross_account_role, sso_instance_arn, sns_topic_arn, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region = excluded.region,
			access_key_id = excluded.access_key_id,
			secret_access_key = excluded.secret_access_key,
			cross_account_role = excluded.cross_account_role,
			sso_instance_arn = excluded.sso_instance_arn,
			sns_topic_arn = excluded.sns_topic_arn,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		settings.Region,
		settings.AccessKeyID,
		settings.SecretAccessKey,
		settings.CrossAccountRole,
		settings.SSOInstanceArn,
		settings.SNSTopicArn,
		settings.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to put aws settings: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
