// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// Forwarderはgatewayがバックエンドへリクエストを中継するために使い、
// 結果を常にEnvelopeとして返す。接続失敗やタイムアウトでもエラーは返さず、
// 503を表す合成済みのEnvelopeに変換する。
// Clientはタスクサービスから通知サービスを呼ぶような、
// JSONを送って結果を受け取るだけの単純な呼び出しに使う。
package httpclient
