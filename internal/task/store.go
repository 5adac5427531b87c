package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound はタスクが存在しないことを表す。
var ErrNotFound = errors.New("task not found")

// タスクの状態。
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task はtasksテーブルの1行。
type Task struct {
	ID          int64          `db:"id"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	Status      string         `db:"status"`
	AssignedTo  int64          `db:"assigned_to"`
	CreatedBy   int64          `db:"created_by"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Store はタスクの永続化を行う。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const taskColumns = "id, title, description, status, assigned_to, created_by, created_at"

// Create はタスクを保存し、採番されたIDと作成日時を設定する。
func (s *Store) Create(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	t.CreatedAt = s.now().UTC()

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		"INSERT INTO tasks (title, description, status, assigned_to, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id"),
		t.Title, t.Description, t.Status, t.AssignedTo, t.CreatedBy, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("タスクの作成に失敗: %w", err)
	}
	return nil
}

// Get はIDでタスクを取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, s.db.Rebind("SELECT "+taskColumns+" FROM tasks WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗: %w", err)
	}
	return &t, nil
}

// ListForUser はユーザーが担当または作成したタスクを新しい順に返す。
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Task, error) {
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(
		"SELECT "+taskColumns+" FROM tasks WHERE assigned_to = ? OR created_by = ? ORDER BY created_at DESC, id DESC"),
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗: %w", err)
	}
	return tasks, nil
}

// ListAssigned はユーザーが担当するタスクを新しい順に返す。
func (s *Store) ListAssigned(ctx context.Context, userID int64) ([]Task, error) {
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(
		"SELECT "+taskColumns+" FROM tasks WHERE assigned_to = ? ORDER BY created_at DESC, id DESC"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("担当タスク一覧の取得に失敗: %w", err)
	}
	return tasks, nil
}

// Update はタスクの可変項目を保存する。
func (s *Store) Update(ctx context.Context, t *Task) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE tasks SET title = ?, description = ?, status = ?, assigned_to = ? WHERE id = ?"),
		t.Title, t.Description, t.Status, t.AssignedTo, t.ID,
	)
	if err != nil {
		return fmt.Errorf("タスクの更新に失敗: %w", err)
	}
	return expectOneRow(res)
}

// Delete はタスクを削除する。
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗: %w", err)
	}
	return expectOneRow(res)
}

// expectOneRow は更新件数が0ならErrNotFoundを返す。
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
