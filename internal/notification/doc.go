// Package notification は通知サービスの内部実装を提供する。
//
// タスクサービスから呼ばれてユーザーへの通知を保存し、
// 通知の一覧取得や既読管理を行う。ユーザーの識別はgatewayが付与する
// X-User-Idヘッダーを信頼して行う。
package notification
