package notification

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// EventType は通知の種類を表す。ブログに対するユーザーアクションに対応する。
type EventType string

const (
	// EventTypeLike はブログへのいいねを表す。
	EventTypeLike EventType = "like"
	// EventTypeComment はブログへのコメントを表す。
	EventTypeComment EventType = "comment"
	// EventTypeBlogApproval はブログの承認を表す。
	EventTypeBlogApproval EventType = "blog-approval"
	// EventTypeBlogRejection はブログの差し戻しを表す。
	EventTypeBlogRejection EventType = "blog-rejection"
	// EventTypeFeedback はブログへのフィードバックを表す。
	EventTypeFeedback EventType = "feedback"
)

// errInvalidEventType は未定義の通知種別が指定されたことを表す。
// 通知レコードを空文字のまま保存しないよう、呼び出し側は処理全体を中断する。
var errInvalidEventType = errors.New("未定義の通知種別です")

// generateMessage は通知種別と送信者の表示名から通知文を生成する純粋関数。
// 未定義の種別の場合はerrInvalidEventTypeを返す。
func generateMessage(eventType EventType, actorName string) (string, error) {
	switch eventType {
	case EventTypeLike:
		return fmt.Sprintf("%s liked your blog.", actorName), nil
	case EventTypeComment:
		return fmt.Sprintf("%s commented on your blog.", actorName), nil
	case EventTypeBlogApproval:
		return fmt.Sprintf("%s approved your blog.", actorName), nil
	case EventTypeBlogRejection:
		return fmt.Sprintf("%s rejected your blog.", actorName), nil
	case EventTypeFeedback:
		return fmt.Sprintf("%s has given you blog feedback.", actorName), nil
	default:
		return "", fmt.Errorf("%w: %q", errInvalidEventType, eventType)
	}
}

// capitalize は文字列の先頭1文字を大文字にする。
// 全体チャンネル向けメッセージの整形に使用する。
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
