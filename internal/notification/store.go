package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound は通知が存在しないことを表す。
var ErrNotFound = errors.New("notification not found")

// Notification は通知テーブルの1行。
type Notification struct {
	// ID は通知の一意識別子。
	ID int64 `db:"id"`
	// UserID は通知先のユーザーID。
	UserID int64 `db:"user_id"`
	// Message は通知メッセージ。
	Message string `db:"message"`
	// TaskID は関連するタスクのID。無い場合はnil。
	TaskID sql.NullInt64 `db:"task_id"`
	// IsRead は通知の既読状態。
	IsRead bool `db:"is_read"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `db:"created_at"`
}

// Store は通知の永続化を行う。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const notificationColumns = "id, user_id, message, task_id, is_read, created_at"

// Create は通知を保存して採番されたIDを返す。
func (s *Store) Create(ctx context.Context, userID int64, message string, taskID *int64) (int64, error) {
	var task sql.NullInt64
	if taskID != nil {
		task = sql.NullInt64{Int64: *taskID, Valid: true}
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		"INSERT INTO notifications (user_id, message, task_id, is_read, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		userID, message, task, false, s.now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return id, nil
}

// ListByUser はユーザーの通知を新しい順に返す。
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Notification, error) {
	notifications := []Notification{}
	err := s.db.SelectContext(ctx, &notifications, s.db.Rebind(
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, userID int64) ([]Notification, error) {
	notifications := []Notification{}
	err := s.db.SelectContext(ctx, &notifications, s.db.Rebind(
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND is_read = ? ORDER BY created_at DESC, id DESC"),
		userID, false,
	)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// Get はIDで通知を取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) Get(ctx context.Context, id int64) (*Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// MarkAsRead は通知を既読にする。
func (s *Store) MarkAsRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE notifications SET is_read = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllAsRead はユーザーの未読通知をすべて既読にして、更新件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?"), true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}
