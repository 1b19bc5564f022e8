// Package db は通知サービスのクエリ実行層を提供する。
// app_notificationsテーブルへの永続化と取得のみを担う。
package db

import (
	"context"
	"database/sql"
	"time"
)

// AppNotification はapp_notificationsテーブルの1行を表す。
// 作成後に変更されることはない不変のレコード。
type AppNotification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// Type は通知種別。
	Type string
	// Text は生成済みの通知文。
	Text string
	// Timestamp は永続化時にサーバーが採番した日時。
	Timestamp time.Time
	// BlogID は通知対象のブログID。
	BlogID string
	// SenderID は通知を発生させたユーザーのID。
	SenderID string
	// ReceiverID は通知を受け取るユーザーのID。
	ReceiverID string
}

// Queries はapp_notificationsテーブルに対するクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New はデータベース接続からクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateAppNotificationParams は通知レコード作成のパラメータ。
type CreateAppNotificationParams struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// Type は通知種別。
	Type string
	// Text は生成済みの通知文。
	Text string
	// Timestamp はサーバーが採番した日時。
	Timestamp time.Time
	// BlogID は通知対象のブログID。
	BlogID string
	// SenderID は通知を発生させたユーザーのID。
	SenderID string
	// ReceiverID は通知を受け取るユーザーのID。
	ReceiverID string
}

// CreateAppNotification は通知レコードを1件挿入する。
func (q *Queries) CreateAppNotification(ctx context.Context, params CreateAppNotificationParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO app_notifications (id, type, text, timestamp, blog_id, sender_id, receiver_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		params.ID, params.Type, params.Text, params.Timestamp,
		params.BlogID, params.SenderID, params.ReceiverID,
	)
	return err
}

// GetAppNotificationByID は指定IDの通知レコードを取得する。
func (q *Queries) GetAppNotificationByID(ctx context.Context, id string) (AppNotification, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, type, text, timestamp, blog_id, sender_id, receiver_id
		FROM app_notifications WHERE id = ?`, id)

	var n AppNotification
	err := row.Scan(&n.ID, &n.Type, &n.Text, &n.Timestamp, &n.BlogID, &n.SenderID, &n.ReceiverID)
	return n, err
}

// ListAppNotificationsByReceiverParams は受信者別の通知一覧取得のパラメータ。
type ListAppNotificationsByReceiverParams struct {
	// ReceiverID は受信者のユーザーID。
	ReceiverID string
	// Limit は取得する最大件数。
	Limit int64
	// Offset は読み飛ばす件数。
	Offset int64
}

// ListAppNotificationsByReceiver は受信者の通知を新しい順に取得する。
// 同時刻のレコードはID順で安定させる。
func (q *Queries) ListAppNotificationsByReceiver(ctx context.Context, params ListAppNotificationsByReceiverParams) ([]AppNotification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, text, timestamp, blog_id, sender_id, receiver_id
		FROM app_notifications
		WHERE receiver_id = ?
		ORDER BY timestamp DESC, id
		LIMIT ? OFFSET ?`,
		params.ReceiverID, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifications []AppNotification
	for rows.Next() {
		var n AppNotification
		if err := rows.Scan(&n.ID, &n.Type, &n.Text, &n.Timestamp, &n.BlogID, &n.SenderID, &n.ReceiverID); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountAppNotificationsByReceiver は受信者の通知の総数を返す。
func (q *Queries) CountAppNotificationsByReceiver(ctx context.Context, receiverID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_notifications WHERE receiver_id = ?`, receiverID)

	var count int64
	err := row.Scan(&count)
	return count, err
}
