package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"photostudio/internal/domain"
	"photostudio/internal/infra/pgxtest"
	"photostudio/internal/sqlinline"
)

func taskValues(id string, status domain.TaskStatus, output []byte, errMsg *string) []any {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []any{id, "image-generation", string(status), []byte(`{"draftPrompt":"x"}`), output, errMsg, nil, nil, now, now}
}

func TestTaskCreateAssignsIDAndPending(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	exec := &pgxtest.Executor{
		OnQueryRow: func(query string, args []any) pgx.Row {
			return pgxtest.Row{Values: []any{created, created}}
		},
	}
	repo := NewTaskRepository(exec)
	msg := "stale"
	task := &domain.Task{Type: domain.TaskTypeImageGeneration, Status: domain.TaskStatusFailed, Error: &msg, Input: []byte(`{}`)}
	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
	if task.Status != domain.TaskStatusPending || task.Error != nil {
		t.Fatalf("expected clean pending task, got %+v", task)
	}
	if !task.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %s", task.CreatedAt)
	}
	if exec.Calls[0].Query != sqlinline.QInsertTask {
		t.Fatalf("unexpected query")
	}
}

func TestTaskClaimNextEmptyQueue(t *testing.T) {
	repo := NewTaskRepository(&pgxtest.Executor{})
	if _, err := repo.ClaimNext(context.Background()); !errors.Is(err, domain.ErrNoTaskAvailable) {
		t.Fatalf("expected ErrNoTaskAvailable, got %v", err)
	}
}

func TestTaskClaimNextScansRunning(t *testing.T) {
	exec := &pgxtest.Executor{
		OnQueryRow: func(query string, args []any) pgx.Row {
			return pgxtest.Row{Values: taskValues("t1", domain.TaskStatusRunning, nil, nil)}
		},
	}
	task, err := NewTaskRepository(exec).ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if task.ID != "t1" || task.Status != domain.TaskStatusRunning || task.Output != nil {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestTaskResetFailedDistinguishesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status pgx.Row
		want   error
	}{
		{name: "missing", status: pgxtest.NoRows, want: domain.ErrNotFound},
		{name: "running", status: pgxtest.Row{Values: []any{"running"}}, want: domain.ErrInvalidTransition},
	}
	for _, tc := range cases {
		exec := &pgxtest.Executor{
			OnExec: func(query string, args []any) (pgconn.CommandTag, error) {
				return pgxtest.Tag(0), nil
			},
			OnQueryRow: func(query string, args []any) pgx.Row { return tc.status },
		}
		err := NewTaskRepository(exec).ResetFailed(context.Background(), "t1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestTaskDeleteIdleRejectsRunning(t *testing.T) {
	exec := &pgxtest.Executor{
		OnExec: func(query string, args []any) (pgconn.CommandTag, error) {
			return pgxtest.Tag(0), nil
		},
		OnQueryRow: func(query string, args []any) pgx.Row {
			return pgxtest.Row{Values: []any{"running"}}
		},
	}
	if err := NewTaskRepository(exec).DeleteIdle(context.Background(), "t1"); !errors.Is(err, domain.ErrTaskRunning) {
		t.Fatalf("expected ErrTaskRunning, got %v", err)
	}
}

func TestTaskFailRunningReportsCount(t *testing.T) {
	exec := &pgxtest.Executor{
		OnExec: func(query string, args []any) (pgconn.CommandTag, error) {
			if query != sqlinline.QFailRunningTasks {
				t.Fatalf("unexpected query")
			}
			if args[0] != domain.InterruptedTaskMessage {
				t.Fatalf("unexpected message %v", args[0])
			}
			return pgxtest.Tag(3), nil
		},
	}
	n, err := NewTaskRepository(exec).FailRunning(context.Background(), domain.InterruptedTaskMessage)
	if err != nil {
		t.Fatalf("FailRunning error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 recovered, got %d", n)
	}
}

func TestTaskListBuildsFilteredQuery(t *testing.T) {
	exec := &pgxtest.Executor{
		OnQuery: func(query string, args []any) (pgx.Rows, error) {
			return pgxtest.NewRows(taskValues("t2", domain.TaskStatusFailed, nil, nil)), nil
		},
	}
	tasks, err := NewTaskRepository(exec).List(context.Background(), domain.TaskFilter{
		Status:    domain.TaskStatusFailed,
		RelatedID: "asset-1",
		Limit:     1000,
	})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	query := exec.Calls[0].Query
	if !strings.HasPrefix(query, sqlinline.QListTasksMarker+"\n") {
		t.Fatalf("listing must carry the audit marker: %q", query)
	}
	if !strings.Contains(query, "status = $1") || !strings.Contains(query, "related_id = $2") {
		t.Fatalf("unexpected filters: %q", query)
	}
	if !strings.Contains(query, "LIMIT 200") {
		t.Fatalf("limit should be capped: %q", query)
	}
}
