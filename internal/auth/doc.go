// Package auth は認証サービスの内部実装を提供する。
//
// ユーザー登録とログインを扱い、成功時にgatewayとタスクサービスが検証する
// アクセストークンを発行する。パスワードはbcryptでハッシュ化して保存する。
package auth
