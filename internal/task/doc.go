// Package task はタスクサービスの内部実装を提供する。
//
// タスクの作成・参照・更新・削除を扱う。作成者はタスクのすべての項目を変更でき、
// 担当者は状態だけを変更できる。タスクを割り当てると通知サービスへ
// 担当者宛ての通知を送るが、通知の失敗はタスク操作を失敗させない。
//
// 呼び出し元の識別はTASK_TRUST_MODEで切り替える。
// tokenではBearerトークンを再検証し、headerではgatewayが付与したX-User-Idを信頼する。
package task
