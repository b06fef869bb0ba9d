// Package repository provides data persistence implementations.
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

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultAlertLimit caps alert listings when the caller gives no limit.
const DefaultAlertLimit = 50

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

// SaveTransaction stores a feature record for later velocity lookups.
// Re-saving a transaction ID replaces the earlier record.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, f *domain.TransactionFeatures, at time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if f == nil || f.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	features, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `
		INSERT INTO transactions (id, tenant_id, user_id, amount, card_present, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			user_id = excluded.user_id,
			amount = excluded.amount,
			card_present = excluded.card_present,
			features = excluded.features,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		f.TransactionID, tenantID, f.UserID, f.Amount, boolInt(f.CardPresent),
		string(features), at.UTC(),
	)
	return err
}

// GetTransactionsByUser returns a user's stored transactions created at or
// after since, newest first.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, tenantID string, userID string, since time.Time) ([]*domain.StoredTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, features, created_at
		FROM transactions
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.StoredTransaction
	for rows.Next() {
		var st domain.StoredTransaction
		var features string
		if err := rows.Scan(&st.TenantID, &features, &st.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &st.Features); err != nil {
			return nil, fmt.Errorf("failed to decode stored features: %w", err)
		}
		out = append(out, &st)
	}

	return out, rows.Err()
}

// SaveEnsembleResult stores a scoring result keyed by transaction ID.
func (r *SQLRepository) SaveEnsembleResult(ctx context.Context, tenantID string, result *domain.ScoringResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if result == nil || result.TransactionID == "" {
		return fmt.Errorf("%w: result with transaction_id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := `
		INSERT INTO ensemble_results (
			transaction_id, tenant_id, user_id, random_forest_score, lstm_score, xgboost_score,
			ensemble_score, prediction, confidence, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, transaction_id) DO UPDATE SET
			user_id = excluded.user_id,
			random_forest_score = excluded.random_forest_score,
			lstm_score = excluded.lstm_score,
			xgboost_score = excluded.xgboost_score,
			ensemble_score = excluded.ensemble_score,
			prediction = excluded.prediction,
			confidence = excluded.confidence,
			result = excluded.result,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.TransactionID, tenantID, result.UserID,
		result.RandomForestScore, result.LSTMScore, result.XGBoostScore,
		result.EnsembleScore, string(result.Prediction), result.Confidence,
		string(payload), time.Now().UTC(),
	)
	return err
}

// GetEnsembleResult retrieves a stored result by transaction ID.
func (r *SQLRepository) GetEnsembleResult(ctx context.Context, tenantID string, txID string) (*domain.ScoringResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT result FROM ensemble_results WHERE tenant_id = ? AND transaction_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.ScoringResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// SaveAnalyticsEvent stores the input, output and timing of one analysis.
func (r *SQLRepository) SaveAnalyticsEvent(ctx context.Context, tenantID string, event *domain.AnalyticsEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if event == nil {
		return fmt.Errorf("%w: event is required", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	input, err := json.Marshal(event.Input)
	if err != nil {
		return fmt.Errorf("failed to encode event input: %w", err)
	}
	output, err := json.Marshal(event.Output)
	if err != nil {
		return fmt.Errorf("failed to encode event output: %w", err)
	}

	query := `
		INSERT INTO analytics_events (
			id, tenant_id, user_id, session_id, model_type, input_data, output_data,
			confidence_score, processing_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		event.ID, tenantID, event.UserID, event.SessionID, event.ModelType,
		string(input), string(output), event.ConfidenceScore, event.ProcessingTimeMs,
		event.CreatedAt.UTC(),
	)
	return err
}

// SaveModelPerformance appends performance snapshots in one transaction.
func (r *SQLRepository) SaveModelPerformance(ctx context.Context, tenantID string, snapshots []domain.ModelPerformance) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO model_performance (
			id, tenant_id, model_name, model_version, accuracy, precision_score,
			recall, f1_score, training_date, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	now := time.Now().UTC()
	for _, p := range snapshots {
		if _, err := tx.ExecContext(ctx, query,
			uuid.New().String(), tenantID, p.ModelName, p.ModelVersion,
			p.Accuracy, p.PrecisionScore, p.Recall, p.F1Score,
			p.TrainingDate.UTC(), boolInt(p.IsActive), now,
		); err != nil {
			return fmt.Errorf("failed to save %s snapshot: %w", p.ModelName, err)
		}
	}

	return tx.Commit()
}

// ListModelPerformance returns active snapshots, newest training date first.
func (r *SQLRepository) ListModelPerformance(ctx context.Context, tenantID string) ([]*domain.ModelPerformance, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT model_name, model_version, accuracy, precision_score, recall, f1_score, training_date, is_active
		FROM model_performance
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY training_date DESC, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ModelPerformance
	for rows.Next() {
		var p domain.ModelPerformance
		var active int
		if err := rows.Scan(
			&p.ModelName, &p.ModelVersion, &p.Accuracy, &p.PrecisionScore,
			&p.Recall, &p.F1Score, &p.TrainingDate, &active,
		); err != nil {
			return nil, err
		}
		p.IsActive = active == 1
		out = append(out, &p)
	}

	return out, rows.Err()
}

// SaveAlert stores a realtime alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert with id is required", ErrInvalidInput)
	}

	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode alert metadata: %w", err)
	}

	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO alerts (
			id, tenant_id, transaction_id, user_id, alert_type, severity, title, message,
			metadata, is_read, is_dismissed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TransactionID, alert.UserID, alert.AlertType,
		string(alert.Severity), alert.Title, alert.Message, string(metadata),
		boolInt(alert.IsRead), boolInt(alert.IsDismissed), createdAt.UTC(),
	)
	return err
}

// ListAlerts returns the newest non-dismissed alerts.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, limit int) ([]*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultAlertLimit
	}

	query := `
		SELECT id, tenant_id, transaction_id, user_id, alert_type, severity, title, message,
			   metadata, is_read, is_dismissed, created_at
		FROM alerts
		WHERE tenant_id = ? AND is_dismissed = 0
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, metadata string
		var read, dismissed int

		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.TransactionID, &a.UserID, &a.AlertType, &severity,
			&a.Title, &a.Message, &metadata, &read, &dismissed, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.Severity(severity)
		a.IsRead = read == 1
		a.IsDismissed = dismissed == 1
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// MarkAlertRead flags an alert as read.
func (r *SQLRepository) MarkAlertRead(ctx context.Context, tenantID string, alertID string) error {
	return r.flagAlert(ctx, tenantID, alertID, "is_read")
}

// DismissAlert hides an alert from listings.
func (r *SQLRepository) DismissAlert(ctx context.Context, tenantID string, alertID string) error {
	return r.flagAlert(ctx, tenantID, alertID, "is_dismissed")
}

func (r *SQLRepository) flagAlert(ctx context.Context, tenantID, alertID, column string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	// column is one of two fixed names, never caller input
	query := "UPDATE alerts SET " + column + " = 1 WHERE tenant_id = ? AND id = ?"

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, alertID)
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

// SaveWatchRule creates or replaces a watch rule.
func (r *SQLRepository) SaveWatchRule(ctx context.Context, tenantID string, rule *domain.WatchRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule with id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO watch_rules (
			id, tenant_id, name, description, expression, label, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			label = excluded.label,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Expression,
		rule.Label, boolInt(rule.Enabled), rule.CreatedAt.UTC(), now,
	)
	return err
}

// GetWatchRule retrieves a watch rule by ID.
func (r *SQLRepository) GetWatchRule(ctx context.Context, tenantID string, ruleID string) (*domain.WatchRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, label, enabled, created_at, updated_at
		FROM watch_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanWatchRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListWatchRules returns every watch rule of a tenant, enabled or not.
func (r *SQLRepository) ListWatchRules(ctx context.Context, tenantID string) ([]*domain.WatchRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, label, enabled, created_at, updated_at
		FROM watch_rules
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.WatchRule
	for rows.Next() {
		rule, err := scanWatchRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchRule(row rowScanner) (*domain.WatchRule, error) {
	var rule domain.WatchRule
	var description sql.NullString
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &rule.Expression,
		&rule.Label, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1
	return &rule, nil
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
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
