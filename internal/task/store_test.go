package task

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// TestStoreNotFound は対象行が無い場合にErrNotFoundになることを検証する。
func TestStoreNotFound(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewStore(sqlx.NewDb(db, "sqlite"))

	mock.ExpectExec("UPDATE tasks SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM tasks").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM tasks WHERE id").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if err := store.Update(t.Context(), &Task{ID: 3, Title: "x", Status: StatusPending, AssignedTo: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(t.Context(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(t.Context(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("未実行の期待値がある: %v", err)
	}
}
