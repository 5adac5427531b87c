// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// アクセスログ、パニックリカバリ、CORS、レート制限、
// Bearerトークンまたは信頼済みヘッダーによるアイデンティティ解決を含む。
// エラー応答はすべて {"detail": "..."} 形式で返す。
package middleware
