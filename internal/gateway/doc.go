// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。ルート表に従ってリクエストを照合し、必要ならBearerトークンを検証して
// X-User-Idヘッダーを付与したうえでバックエンドサービスへ転送する。
// バックエンドの応答と失敗は {"detail": ...} 形式の単一の契約に揃えて返す。
package gateway
