package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/tradewire/agentcore/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflow runs ---

const runColumns = `id, tenant_id, workflow, adapter, project_id, partner_name, status, approval_mode,
	go_live_recommendation, blocking_reasons, input, output, created_at, completed_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	reasons, err := marshalStrings(run.BlockingReasons)
	if err != nil {
		return fmt.Errorf("marshal blocking_reasons: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.Workflow, nullStr(run.Adapter), nullStr(run.ProjectID),
		nullStr(run.PartnerName), string(run.Status), nullStr(run.ApprovalMode),
		nullStr(run.GoLiveRecommendation), reasons, nullRaw(run.Input), nullRaw(run.Output),
		timeOrNow(run.CreatedAt), nullTime(run.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, tenantID, id string) (*WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow_run", id)
	}
	return run, err
}

func (s *LibSQLStore) GetRunDetail(ctx context.Context, tenantID, id string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{WorkflowRun: *run, Steps: []*WorkflowStep{}, Events: []*WorkflowEvent{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, run_id, step_name, attempt, status, output, error, started_at, completed_at
		 FROM workflow_steps WHERE run_id = ? ORDER BY started_at ASC, attempt ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		detail.Steps = append(detail.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	eventRows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, run_id, event_type, payload, sequence, created_at
		 FROM workflow_events WHERE run_id = ? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, err
	}
	defer eventRows.Close()
	for eventRows.Next() {
		e := &WorkflowEvent{}
		var payload sql.NullString
		if err := eventRows.Scan(&e.ID, &e.TenantID, &e.RunID, &e.Type, &payload, &e.Sequence, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		detail.Events = append(detail.Events, e)
	}
	return detail, eventRows.Err()
}

func (s *LibSQLStore) ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]*WorkflowRun, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *filter.To)
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) UpdateRunInput(ctx context.Context, tenantID, id string, input json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET input = ? WHERE tenant_id = ? AND id = ?`,
		string(input), tenantID, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_run", id)
}

func (s *LibSQLStore) ReopenRun(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, completed_at = NULL, go_live_recommendation = NULL,
		 blocking_reasons = NULL, output = NULL WHERE tenant_id = ? AND id = ?`,
		string(schema.RunStatusRunning), tenantID, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_run", id)
}

func (s *LibSQLStore) CompleteRun(ctx context.Context, id string, completion RunCompletion) error {
	reasons, err := marshalStrings(completion.BlockingReasons)
	if err != nil {
		return fmt.Errorf("marshal blocking_reasons: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, go_live_recommendation = ?, blocking_reasons = ?,
		 output = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(completion.Status), nullStr(completion.GoLiveRecommendation), reasons,
		nullRaw(completion.Output), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_run", id)
}

// --- Step attempts ---

// CreateStepAttempt inserts a new attempt row, assigning attempt = max+1
// for the (run, step) pair inside a transaction.
func (s *LibSQLStore) CreateStepAttempt(ctx context.Context, step *WorkflowStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var attempt int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt), 0) + 1 FROM workflow_steps WHERE run_id = ? AND step_name = ?`,
		step.RunID, step.StepName,
	).Scan(&attempt)
	if err != nil {
		return fmt.Errorf("next attempt: %w", err)
	}
	step.Attempt = attempt

	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.Status == "" {
		step.Status = schema.StepStatusRunning
	}
	step.StartedAt = timeOrNow(step.StartedAt)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_steps (id, tenant_id, run_id, step_name, attempt, status, output, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.TenantID, step.RunID, step.StepName, step.Attempt, string(step.Status),
		nullRaw(step.Output), nullStr(step.Error), step.StartedAt, nullTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert step attempt: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) CompleteStepAttempt(ctx context.Context, id string, status schema.StepStatus, output json.RawMessage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_steps SET status = ?, output = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), nullRaw(output), nullStr(errMsg), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_step", id)
}

// LatestStepStates returns the highest-attempt row per step name for a run.
func (s *LibSQLStore) LatestStepStates(ctx context.Context, tenantID, runID string) (map[string]*WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, run_id, step_name, attempt, status, output, error, started_at, completed_at
		 FROM workflow_steps WHERE tenant_id = ? AND run_id = ? ORDER BY attempt ASC`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]*WorkflowStep)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		// Rows arrive in ascending attempt order, so the last wins.
		states[step.StepName] = step
	}
	return states, rows.Err()
}

// --- Event log ---

// AppendEvent inserts an event, assigning the next per-run sequence
// number inside a transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *WorkflowEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	event.Sequence = seq

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = timeOrNow(event.CreatedAt)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_events (id, tenant_id, run_id, event_type, payload, sequence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.RunID, event.Type, nullRaw(event.Payload), seq, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// --- Webhook subscriptions ---

func (s *LibSQLStore) CreateWebhook(ctx context.Context, sub *WebhookSubscription) error {
	events, err := marshalStrings(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions (id, tenant_id, url, secret, events, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.URL, nullStr(sub.Secret), events, boolInt(sub.Active), timeOrNow(sub.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWebhook(ctx context.Context, tenantID, id string) (*WebhookSubscription, error) {
	sub := &WebhookSubscription{}
	var secret, events sql.NullString
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, url, secret, events, active, created_at
		 FROM webhook_subscriptions WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&sub.ID, &sub.TenantID, &sub.URL, &secret, &events, &active, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("webhook", id)
	}
	if err != nil {
		return nil, err
	}
	sub.Secret = secret.String
	sub.Active = active != 0
	sub.Events = unmarshalStrings(events)
	return sub, nil
}

func (s *LibSQLStore) ListWebhooks(ctx context.Context, tenantID string) ([]*WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, secret, events, active, created_at
		 FROM webhook_subscriptions WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*WebhookSubscription
	for rows.Next() {
		sub := &WebhookSubscription{}
		var secret, events sql.NullString
		var active int
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.URL, &secret, &events, &active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Secret = secret.String
		sub.Active = active != 0
		sub.Events = unmarshalStrings(events)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// --- Webhook deliveries ---

const deliveryColumns = `id, tenant_id, webhook_id, event_type, payload, attempt, status,
	response_status, response_body, last_error, next_retry_at, created_at, delivered_at`

func (s *LibSQLStore) CreateDelivery(ctx context.Context, d *WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.WebhookID, d.EventType, nullRaw(d.Payload), d.Attempt, string(d.Status),
		nullIntPtr(d.ResponseStatus), nullStr(d.ResponseBody), nullStr(d.LastError),
		nullTime(d.NextRetryAt), timeOrNow(d.CreatedAt), nullTime(d.DeliveredAt),
	)
	return err
}

func (s *LibSQLStore) GetDelivery(ctx context.Context, tenantID, id string) (*WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE tenant_id = ? AND id = ?`, tenantID, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("webhook_delivery", id)
	}
	return d, err
}

func (s *LibSQLStore) ListDeliveries(ctx context.Context, tenantID string, filter DeliveryFilter) ([]*WebhookDelivery, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// DueDeliveries returns pending/retrying deliveries whose next_retry_at has
// elapsed or was never set, oldest first.
func (s *LibSQLStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		 WHERE status IN ('pending', 'retrying') AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *LibSQLStore) MarkDeliveryDelivered(ctx context.Context, id string, attempt int, responseStatus int, responseBody string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = ?, attempt = ?, response_status = ?, response_body = ?,
		 last_error = NULL, next_retry_at = NULL, delivered_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(schema.DeliveryStatusDelivered), attempt, responseStatus, nullStr(responseBody), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "webhook_delivery", id)
}

func (s *LibSQLStore) MarkDeliveryRetrying(ctx context.Context, id string, attempt int, lastError string, nextRetryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = ?, attempt = ?, last_error = ?, next_retry_at = ? WHERE id = ?`,
		string(schema.DeliveryStatusRetrying), attempt, nullStr(lastError), nextRetryAt, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "webhook_delivery", id)
}

func (s *LibSQLStore) MarkDeliveryFailed(ctx context.Context, id string, attempt int, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = ?, attempt = ?, last_error = ?, next_retry_at = NULL WHERE id = ?`,
		string(schema.DeliveryStatusFailed), attempt, nullStr(lastError), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "webhook_delivery", id)
}

// CloneDeliveryForRetry creates a fresh pending delivery copying the payload
// of an existing one. Used by the manual retry endpoint.
func (s *LibSQLStore) CloneDeliveryForRetry(ctx context.Context, tenantID, id string) (*WebhookDelivery, error) {
	orig, err := s.GetDelivery(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	clone := &WebhookDelivery{
		ID:        uuid.New().String(),
		TenantID:  orig.TenantID,
		WebhookID: orig.WebhookID,
		EventType: orig.EventType,
		Payload:   orig.Payload,
		Attempt:   0,
		Status:    schema.DeliveryStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateDelivery(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// --- Tool dead letters ---

func (s *LibSQLStore) CreateDeadLetter(ctx context.Context, dl *ToolDeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_dead_letters (id, tenant_id, run_id, tool, payload, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.TenantID, nullStr(dl.RunID), dl.Tool, nullRaw(dl.Payload), nullStr(dl.Error),
		timeOrNow(dl.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*ToolDeadLetter, error) {
	query := `SELECT id, tenant_id, run_id, tool, payload, error, created_at
		 FROM tool_dead_letters WHERE tenant_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []*ToolDeadLetter
	for rows.Next() {
		dl := &ToolDeadLetter{}
		var runID, payload, errMsg sql.NullString
		if err := rows.Scan(&dl.ID, &dl.TenantID, &runID, &dl.Tool, &payload, &errMsg, &dl.CreatedAt); err != nil {
			return nil, err
		}
		dl.RunID = runID.String
		dl.Payload = rawOrNil(payload)
		dl.Error = errMsg.String
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// --- Tenant policies ---

func (s *LibSQLStore) GetActivePolicy(ctx context.Context, tenantID string) (*TenantPolicy, error) {
	p := &TenantPolicy{}
	var policyJSON string
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, version, policy, active, created_at
		 FROM tenant_policies WHERE tenant_id = ? AND active = 1`, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.Version, &policyJSON, &active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("tenant_policy", tenantID)
	}
	if err != nil {
		return nil, err
	}
	p.Policy = json.RawMessage(policyJSON)
	p.Active = active != 0
	return p, nil
}

func (s *LibSQLStore) ListPolicyVersions(ctx context.Context, tenantID string) ([]*TenantPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, version, policy, active, created_at
		 FROM tenant_policies WHERE tenant_id = ? ORDER BY version DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*TenantPolicy
	for rows.Next() {
		p := &TenantPolicy{}
		var policyJSON string
		var active int
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Version, &policyJSON, &active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Policy = json.RawMessage(policyJSON)
		p.Active = active != 0
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// ActivatePolicy stores a new policy version and makes it the single active
// row for the tenant. Deactivation of the previous version and insertion of
// the new one happen in one transaction.
func (s *LibSQLStore) ActivatePolicy(ctx context.Context, tenantID string, policy json.RawMessage) (*TenantPolicy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM tenant_policies WHERE tenant_id = ?`, tenantID,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("next policy version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_policies SET active = 0 WHERE tenant_id = ? AND active = 1`, tenantID); err != nil {
		return nil, fmt.Errorf("deactivate previous policy: %w", err)
	}

	p := &TenantPolicy{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Version:   version,
		Policy:    policy,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_policies (id, tenant_id, version, policy, active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		p.ID, p.TenantID, p.Version, string(p.Policy), p.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert policy version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit policy activation: %w", err)
	}
	return p, nil
}

// --- Retention ---

func (s *LibSQLStore) PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE status IN ('delivered', 'failed') AND created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *LibSQLStore) PruneDeadLetters(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_dead_letters WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*WorkflowRun, error) {
	run := &WorkflowRun{}
	var (
		adapter, projectID, partnerName, approvalMode sql.NullString
		recommendation, reasons                       sql.NullString
		input, output                                 sql.NullString
		completedAt                                   sql.NullTime
		status                                        string
	)
	err := row.Scan(&run.ID, &run.TenantID, &run.Workflow, &adapter, &projectID, &partnerName,
		&status, &approvalMode, &recommendation, &reasons, &input, &output,
		&run.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Adapter = adapter.String
	run.ProjectID = projectID.String
	run.PartnerName = partnerName.String
	run.Status = schema.RunStatus(status)
	run.ApprovalMode = approvalMode.String
	run.GoLiveRecommendation = recommendation.String
	run.BlockingReasons = unmarshalStrings(reasons)
	run.Input = rawOrNil(input)
	run.Output = rawOrNil(output)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func scanStep(row rowScanner) (*WorkflowStep, error) {
	step := &WorkflowStep{}
	var output, errMsg sql.NullString
	var completedAt sql.NullTime
	var status string
	err := row.Scan(&step.ID, &step.TenantID, &step.RunID, &step.StepName, &step.Attempt,
		&status, &output, &errMsg, &step.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	step.Status = schema.StepStatus(status)
	step.Output = rawOrNil(output)
	step.Error = errMsg.String
	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}
	return step, nil
}

func scanDelivery(row rowScanner) (*WebhookDelivery, error) {
	d := &WebhookDelivery{}
	var payload, responseBody, lastError sql.NullString
	var responseStatus sql.NullInt64
	var nextRetryAt, deliveredAt sql.NullTime
	var status string
	err := row.Scan(&d.ID, &d.TenantID, &d.WebhookID, &d.EventType, &payload, &d.Attempt, &status,
		&responseStatus, &responseBody, &lastError, &nextRetryAt, &d.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	d.Payload = rawOrNil(payload)
	d.Status = schema.DeliveryStatus(status)
	if responseStatus.Valid {
		n := int(responseStatus.Int64)
		d.ResponseStatus = &n
	}
	d.ResponseBody = responseBody.String
	d.LastError = lastError.String
	if nextRetryAt.Valid {
		d.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return d, nil
}

// --- Value helpers ---

func storeNotFound(resource, id string) *schema.AgentCoreError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullIntPtr(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalStrings(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var list []string
	_ = json.Unmarshal([]byte(ns.String), &list)
	return list
}
