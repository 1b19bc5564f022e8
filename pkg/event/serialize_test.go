package event

import (
	"testing"
)

// TestNew はイベント生成とデータのシリアライズを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("通知作成イベントが正しく生成されること", func(t *testing.T) {
		t.Parallel()

		data := NotificationCreatedData{
			NotificationID: "notif-1",
			ReceiverID:     "user-42",
			BlogID:         "blog-1",
			EventType:      "comment",
			Text:           "Bob Carter commented on your blog.",
		}

		e, err := New("user-42", AggregateTypeUser, TypeNotificationCreated, 1, data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if e.ID == "" {
			t.Error("IDが空です")
		}
		if e.AggregateID != "user-42" {
			t.Errorf("AggregateID = %q, want %q", e.AggregateID, "user-42")
		}
		if e.AggregateType != AggregateTypeUser {
			t.Errorf("AggregateType = %q, want %q", e.AggregateType, AggregateTypeUser)
		}
		if e.EventType != TypeNotificationCreated {
			t.Errorf("EventType = %q, want %q", e.EventType, TypeNotificationCreated)
		}
		if e.Version != 1 {
			t.Errorf("Version = %d, want 1", e.Version)
		}
		if e.CreatedAt.IsZero() {
			t.Error("CreatedAtがゼロ値です")
		}
	})

	t.Run("生成のたびに異なるIDが採番されること", func(t *testing.T) {
		t.Parallel()

		data := BroadcastEventPublishedData{Message: "new issue released"}

		e1, err := New("event_channel", AggregateTypeChannel, TypeBroadcastEventPublished, 1, data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		e2, err := New("event_channel", AggregateTypeChannel, TypeBroadcastEventPublished, 2, data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if e1.ID == e2.ID {
			t.Errorf("IDが重複しています: %q", e1.ID)
		}
	})
}

// TestDecodeData はイベントデータのデシリアライズを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("シリアライズしたデータが元の値に復元されること", func(t *testing.T) {
		t.Parallel()

		original := NotificationCreatedData{
			NotificationID: "notif-1",
			ReceiverID:     "user-42",
			BlogID:         "blog-1",
			EventType:      "like",
			Text:           "Bob Carter liked your blog.",
		}

		e, err := New("user-42", AggregateTypeUser, TypeNotificationCreated, 1, original)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		decoded, err := DecodeData[NotificationCreatedData](e)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != original {
			t.Errorf("decoded = %+v, want %+v", *decoded, original)
		}
	})

	t.Run("不正なJSONデータではエラーが返ること", func(t *testing.T) {
		t.Parallel()

		e := &Event{Data: []byte(`{invalid`)}

		if _, err := DecodeData[BroadcastEventPublishedData](e); err == nil {
			t.Error("不正なJSONでerrがnil")
		}
	})
}
