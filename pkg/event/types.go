package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeBlog はブログエンティティを表す。
	AggregateTypeBlog AggregateType = "Blog"
	// AggregateTypeChannel は配信チャンネルを表す。
	AggregateTypeChannel AggregateType = "Channel"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は通知レコードが作成されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
	// TypeBroadcastEventPublished は全体チャンネルへイベントが配信されたことを表す。
	TypeBroadcastEventPublished Type = "BroadcastEventPublished"
)

// Event はEvent Storeに永続化される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationCreatedData はNotificationCreatedイベントのデータ。
type NotificationCreatedData struct {
	// NotificationID は作成された通知のID。
	NotificationID string `json:"notification_id"`
	// ReceiverID は通知を受け取るユーザーのID。
	ReceiverID string `json:"receiver_id"`
	// BlogID は通知対象のブログID。
	BlogID string `json:"blog_id"`
	// EventType は通知種別。
	EventType string `json:"event_type"`
	// Text は生成済みの通知文。
	Text string `json:"text"`
}

// BroadcastEventPublishedData はBroadcastEventPublishedイベントのデータ。
type BroadcastEventPublishedData struct {
	// Message は配信されたイベントのメッセージ本文。
	Message string `json:"message"`
}
