// Package notification はリアルタイム通知サービスの内部実装を提供する。
//
// ブログへのいいね・コメント・承認・フィードバック等のイベントを受け取り、
// 通知レコードとして永続化した上で、WebSocketで接続中のクライアントへ
// リアルタイムに配信する。配信はチャンネル単位のファンアウトで行い、
// オフラインのクライアントは通知一覧APIから履歴を取得する。
package notification
