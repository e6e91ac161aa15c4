package repo

import (
	"context"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/sqlinline"
)

const (
	defaultTaskListLimit = 50
	maxTaskListLimit     = 200
)

var psql = sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql}
}

// Create inserts a pending task. An empty ID is filled with a new UUID.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = domain.TaskStatusPending
	task.Output = nil
	task.Error = nil
	row := r.sql.QueryRow(ctx, sqlinline.QInsertTask,
		task.ID,
		string(task.Type),
		nullableBytes(task.Input),
		task.RelatedID,
		task.RelatedMeta,
	)
	if err := row.Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	task, err := scanTask(r.sql.QueryRow(ctx, sqlinline.QSelectTaskByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// List returns tasks newest first.
func (r *TaskRepositoryPG) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	q := psql.
		Select("id::text", "type", "status", "input", "output", "error", "related_id", "related_meta", "created_at", "updated_at").
		From("tasks").
		OrderBy("created_at desc", "id desc")
	if filter.Status != "" {
		q = q.Where(sqrl.Eq{"status": string(filter.Status)})
	}
	if filter.Type != "" {
		q = q.Where(sqrl.Eq{"type": string(filter.Type)})
	}
	if filter.RelatedID != "" {
		q = q.Where(sqrl.Eq{"related_id": filter.RelatedID})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTaskListLimit
	}
	if limit > maxTaskListLimit {
		limit = maxTaskListLimit
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task listing: %w", err)
	}

	rows, err := r.sql.Query(ctx, sqlinline.QListTasksMarker+"\n"+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClaimNext moves the oldest pending task to running.
func (r *TaskRepositoryPG) ClaimNext(ctx context.Context) (*domain.Task, error) {
	task, err := scanTask(r.sql.QueryRow(ctx, sqlinline.QClaimNextTask))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoTaskAvailable
		}
		return nil, err
	}
	return task, nil
}

// Complete stores output and clears any previous error.
func (r *TaskRepositoryPG) Complete(ctx context.Context, id string, output []byte) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteTask, id, nullableBytes(output))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Fail stores the error message and clears any previous output.
func (r *TaskRepositoryPG) Fail(ctx context.Context, id string, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailTask, id, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FailRunning force-fails every running task.
func (r *TaskRepositoryPG) FailRunning(ctx context.Context, message string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailRunningTasks, message)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetFailed moves a failed task back to pending.
func (r *TaskRepositoryPG) ResetFailed(ctx context.Context, id string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QResetFailedTask, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.status(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

// DeleteIdle removes a task that is not running.
func (r *TaskRepositoryPG) DeleteIdle(ctx context.Context, id string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteIdleTask, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.status(ctx, id); err != nil {
		return err
	}
	return domain.ErrTaskRunning
}

func (r *TaskRepositoryPG) status(ctx context.Context, id string) (domain.TaskStatus, error) {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectTaskStatus, id).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.TaskStatus(status), nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task     domain.Task
		taskType string
		status   string
		input    []byte
		output   []byte
	)
	if err := row.Scan(
		&task.ID,
		&taskType,
		&status,
		&input,
		&output,
		&task.Error,
		&task.RelatedID,
		&task.RelatedMeta,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.Input = input
	task.Output = nullableBytes(output)
	return &task, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
