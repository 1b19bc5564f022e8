package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は通知サービスが発行するプラットフォームイベントを生成する。
// dataにはイベント種別に対応するデータ構造体を渡し、JSON形式で格納される。
// IDと作成日時はここで採番され、以後変更されない。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%sイベントのデータのシリアライズに失敗: %w", eventType, err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定した型へデシリアライズする。
// 型はイベント種別に対応するデータ構造体（NotificationCreatedData等）を指定する。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%sイベントのデータのデシリアライズに失敗: %w", e.EventType, err)
	}
	return &data, nil
}
