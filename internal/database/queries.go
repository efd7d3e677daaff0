package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fluxdigest/internal/domain"
)

func (d *Database) SaveDigest(ctx context.Context, digest *domain.Digest) error {
	if digest == nil {
		return errors.New("digest is nil")
	}

	digest.Content = strings.TrimSpace(digest.Content)
	if digest.Content == "" {
		return errors.New("digest content is empty")
	}

	query := `insert into digests
	(id, title, content, scope, scope_id, scope_name, article_count,
	window_hours, target_language, is_read, generated_at)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		digest.ID,
		digest.Title,
		digest.Content,
		string(digest.Scope),
		digest.ScopeID,
		digest.ScopeName,
		digest.ArticleCount,
		digest.WindowHours,
		digest.TargetLanguage,
		digest.IsRead,
		digest.GeneratedAt)

	return err
}

const digestColumns = `id, title, content, scope, scope_id, scope_name,
article_count, window_hours, target_language, is_read, generated_at,
created_at, updated_at`

func scanDigest(row interface{ Scan(...any) error }) (*domain.Digest, error) {
	var dg domain.Digest
	var scope string

	err := row.Scan(
		&dg.ID,
		&dg.Title,
		&dg.Content,
		&scope,
		&dg.ScopeID,
		&dg.ScopeName,
		&dg.ArticleCount,
		&dg.WindowHours,
		&dg.TargetLanguage,
		&dg.IsRead,
		&dg.GeneratedAt,
		&dg.CreatedAt,
		&dg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	dg.Scope = domain.Scope(scope)

	return &dg, nil
}

func (d *Database) GetDigest(ctx context.Context, id string) (*domain.Digest, error) {
	query := "select " + digestColumns + " from digests where id = ?"

	dg, err := scanDigest(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return dg, nil
}

func (d *Database) ListDigests(ctx context.Context) ([]domain.Digest, error) {
	query := "select " + digestColumns + " from digests order by generated_at desc"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "ListDigests")
		}
	}()

	var digests []domain.Digest
	for rows.Next() {
		dg, scanErr := scanDigest(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}

		digests = append(digests, *dg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return digests, nil
}

func (d *Database) UpdateDigestContent(
	ctx context.Context,
	id string,
	title string,
	content string,
) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("digest content is empty")
	}

	query := `update digests
	set title = ?, content = ?, updated_at = current_timestamp
	where id = ?`

	_, err := d.db.ExecContext(ctx, query, title, content, id)

	return err
}

func (d *Database) SetDigestRead(ctx context.Context, id string, read bool) error {
	query := `update digests
	set is_read = ?, updated_at = current_timestamp
	where id = ?`

	_, err := d.db.ExecContext(ctx, query, read, id)

	return err
}

func (d *Database) DeleteDigest(ctx context.Context, id string) error {
	query := "delete from digests where id = ?"

	_, err := d.db.ExecContext(ctx, query, id)

	return err
}

func (d *Database) CreateTask(
	ctx context.Context,
	task *domain.ScheduledTask,
) (int64, error) {
	if task == nil {
		return 0, errors.New("task is nil")
	}

	query := `insert into scheduled_tasks
	(name, scope, scope_id, scope_name, window_hours, target_language,
	unread_only, push_enabled, push_url, push_method, push_body,
	cron_expr, timezone, is_active, next_run_at)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		task.Name,
		string(task.Scope),
		task.ScopeID,
		task.ScopeName,
		task.WindowHours,
		task.TargetLanguage,
		task.UnreadOnly,
		task.PushEnabled,
		task.Push.URL,
		task.Push.Method,
		task.Push.BodyTemplate,
		task.CronExpr,
		task.Timezone,
		task.IsActive,
		task.NextRunAt)
	if err != nil {
		return 0, fmt.Errorf("execute query: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch inserted ID: %w", err)
	}

	task.ID = id

	return id, nil
}

const taskColumns = `id, name, scope, scope_id, scope_name, window_hours,
target_language, unread_only, push_enabled, push_url, push_method, push_body,
cron_expr, timezone, is_active, last_run_at, next_run_at, last_error,
created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var scope string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.Name,
		&scope,
		&t.ScopeID,
		&t.ScopeName,
		&t.WindowHours,
		&t.TargetLanguage,
		&t.UnreadOnly,
		&t.PushEnabled,
		&t.Push.URL,
		&t.Push.Method,
		&t.Push.BodyTemplate,
		&t.CronExpr,
		&t.Timezone,
		&t.IsActive,
		&lastRun,
		&nextRun,
		&t.LastError,
		&t.CreatedAt,
		&t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Scope = domain.Scope(scope)
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		t.NextRunAt = &nextRun.Time
	}

	return &t, nil
}

func (d *Database) GetTask(ctx context.Context, id int64) (*domain.ScheduledTask, error) {
	query := "select " + taskColumns + " from scheduled_tasks where id = ?"

	t, err := scanTask(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return t, nil
}

func (d *Database) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	query := "select " + taskColumns + " from scheduled_tasks order by id"

	return d.listTasks(ctx, query, "ListTasks")
}

func (d *Database) ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	query := "select " + taskColumns + " from scheduled_tasks where is_active = 1 order by id"

	return d.listTasks(ctx, query, "ListActiveTasks")
}

func (d *Database) listTasks(
	ctx context.Context,
	query string,
	operation string,
) ([]domain.ScheduledTask, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", operation)
		}
	}()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}

		tasks = append(tasks, *t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tasks, nil
}

func (d *Database) UpdateTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return errors.New("task is nil")
	}

	query := `update scheduled_tasks
	set name = ?, scope = ?, scope_id = ?, scope_name = ?, window_hours = ?,
	target_language = ?, unread_only = ?, push_enabled = ?, push_url = ?,
	push_method = ?, push_body = ?, cron_expr = ?, timezone = ?,
	is_active = ?, next_run_at = ?, updated_at = current_timestamp
	where id = ?`

	_, err := d.db.ExecContext(ctx, query,
		task.Name,
		string(task.Scope),
		task.ScopeID,
		task.ScopeName,
		task.WindowHours,
		task.TargetLanguage,
		task.UnreadOnly,
		task.PushEnabled,
		task.Push.URL,
		task.Push.Method,
		task.Push.BodyTemplate,
		task.CronExpr,
		task.Timezone,
		task.IsActive,
		task.NextRunAt,
		task.ID)

	return err
}

func (d *Database) DeleteTask(ctx context.Context, id int64) error {
	query := "delete from scheduled_tasks where id = ?"

	_, err := d.db.ExecContext(ctx, query, id)

	return err
}

func (d *Database) SetTaskActive(ctx context.Context, id int64, active bool) error {
	query := `update scheduled_tasks
	set is_active = ?, updated_at = current_timestamp
	where id = ?`

	_, err := d.db.ExecContext(ctx, query, active, id)

	return err
}

// UpdateTaskRun records the outcome of one firing. nextRun stays untouched
// when nil so manual runs never move the schedule.
func (d *Database) UpdateTaskRun(
	ctx context.Context,
	id int64,
	lastRun time.Time,
	nextRun *time.Time,
	lastError string,
) error {
	if nextRun == nil {
		query := `update scheduled_tasks
		set last_run_at = ?, last_error = ?, updated_at = current_timestamp
		where id = ?`

		_, err := d.db.ExecContext(ctx, query, lastRun, lastError, id)

		return err
	}

	query := `update scheduled_tasks
	set last_run_at = ?, next_run_at = ?, last_error = ?, updated_at = current_timestamp
	where id = ?`

	_, err := d.db.ExecContext(ctx, query, lastRun, *nextRun, lastError, id)

	return err
}

// AIConfigRow is the stored provider record. APIKey holds vault ciphertext.
type AIConfigRow struct {
	ID       int64
	Provider string
	APIURL   string
	APIKey   string
	Model    string
	IsActive bool
}

func (d *Database) ActiveAIConfig(ctx context.Context) (*AIConfigRow, error) {
	query := `select id, provider, api_url, api_key, model, is_active
	from ai_configs
	where is_active = 1
	limit 1`

	var row AIConfigRow
	err := d.db.QueryRowContext(ctx, query).Scan(
		&row.ID,
		&row.Provider,
		&row.APIURL,
		&row.APIKey,
		&row.Model,
		&row.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return &row, nil
}

func (d *Database) UpsertAIConfig(ctx context.Context, row *AIConfigRow) error {
	if row == nil {
		return errors.New("AI config is nil")
	}

	query := `delete from ai_configs where is_active = 1`
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clear active config: %w", err)
	}

	query = `insert into ai_configs (provider, api_url, api_key, model, is_active)
	values (?, ?, ?, ?, 1)`

	_, err := d.db.ExecContext(ctx, query,
		row.Provider,
		row.APIURL,
		row.APIKey,
		row.Model)

	return err
}

// MinifluxConfigRow is the stored feed-backend record. Token holds vault
// ciphertext.
type MinifluxConfigRow struct {
	ID        int64
	ServerURL string
	Token     string
	IsActive  bool
}

func (d *Database) ActiveMinifluxConfig(ctx context.Context) (*MinifluxConfigRow, error) {
	query := `select id, server_url, token, is_active
	from miniflux_configs
	where is_active = 1
	limit 1`

	var row MinifluxConfigRow
	err := d.db.QueryRowContext(ctx, query).Scan(
		&row.ID,
		&row.ServerURL,
		&row.Token,
		&row.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return &row, nil
}

func (d *Database) UpsertMinifluxConfig(ctx context.Context, row *MinifluxConfigRow) error {
	if row == nil {
		return errors.New("miniflux config is nil")
	}

	query := `delete from miniflux_configs where is_active = 1`
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clear active config: %w", err)
	}

	query = `insert into miniflux_configs (server_url, token, is_active)
	values (?, ?, 1)`

	_, err := d.db.ExecContext(ctx, query, row.ServerURL, row.Token)

	return err
}
