package migration

import (
	"testing"
	"testing/fstest"

	"github.com/nao1215/taskplatform/pkg/database"
	"go.uber.org/zap"
)

// testMigrations はテスト用のマイグレーションファイル。
var testMigrations = fstest.MapFS{
	"migrations/sqlite/000002_add_done.up.sql": &fstest.MapFile{
		Data: []byte("ALTER TABLE items ADD COLUMN done INTEGER NOT NULL DEFAULT 0;"),
	},
	"migrations/sqlite/000001_create_items.up.sql": &fstest.MapFile{
		Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
	},
	"migrations/sqlite/000001_create_items.down.sql": &fstest.MapFile{
		Data: []byte("DROP TABLE items;"),
	},
	"migrations/sqlite/README.md": &fstest.MapFile{Data: []byte("ignored")},
}

// TestRun はRun関数を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("バージョン順に適用され再実行しても重複しないこと", func(t *testing.T) {
		t.Parallel()

		db, err := database.Open(":memory:")
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { db.Close() })

		for range 2 {
			if err := Run(db, testMigrations, "migrations", zap.NewNop()); err != nil {
				t.Fatalf("Run()でエラーが発生: %v", err)
			}
		}

		var versions []int
		if err := db.Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
			t.Fatalf("バージョンの取得に失敗: %v", err)
		}
		if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
			t.Errorf("versions = %v, want [1 2]", versions)
		}

		if _, err := db.Exec("INSERT INTO items (name, done) VALUES ('a', 1)"); err != nil {
			t.Errorf("マイグレーション後のテーブルに挿入できない: %v", err)
		}
	})

	t.Run("ドライバのディレクトリが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		db, err := database.Open(":memory:")
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { db.Close() })

		if err := Run(db, fstest.MapFS{}, "migrations", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("SQLが失敗した場合はバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		db, err := database.Open(":memory:")
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { db.Close() })

		broken := fstest.MapFS{
			"m/sqlite/000001_broken.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE (")},
		}
		if err := Run(db, broken, "m", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}

		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録されたバージョン数 = %d, want 0", count)
		}
	})
}
