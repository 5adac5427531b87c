// Package database はバックエンドサービスが使うリレーショナルストアへの接続を提供する。
//
// DATABASE_URLがpostgres://で始まる場合はPostgreSQL、それ以外はSQLiteとして開く。
// クエリは ? プレースホルダで書き、sqlx.DB.Rebindでドライバに合わせて変換する。
package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ドライバ名。マイグレーションのディレクトリ名にも使う。
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc.org/sqlite のドライバ名はsqlxの既定表に無いため登録する。
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DriverFor はDSNから使用するドライバ名を判定する。
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open はDSNに応じたドライバでデータベースに接続する。
func Open(dsn string) (*sqlx.DB, error) {
	driver := DriverFor(dsn)
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == DriverSQLite {
		// SQLiteは書き込みが単一のため接続を1本に絞る。:memory: の共有にも必要。
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return db, nil
}
