// Package token はサービス間で共有する署名付きアイデンティティトークンを扱う。
//
// 認証サービスが発行し、gatewayとタスクサービスが検証する。
// 署名はHS256で、共有シークレットは設定として各サービスに渡す。
// パッケージ変数としてシークレットを保持することはない。
package token
