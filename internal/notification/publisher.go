package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	notificationdb "github.com/bloghub/notification/internal/notification/db"
	"github.com/bloghub/notification/pkg/event"
)

// sendBlogNotificationRequest はブログ通知発行リクエストのJSON構造。
type sendBlogNotificationRequest struct {
	// Blog は通知対象のブログID。
	Blog string `json:"blog" binding:"required"`
	// Sender は通知を発生させたユーザーのID。
	Sender string `json:"sender" binding:"required"`
	// Receiver は通知を受け取るユーザーのID。
	Receiver string `json:"receiver" binding:"required"`
	// Type は通知種別。
	Type string `json:"type" binding:"required"`
	// Text は旧リビジョンのクライアントが送ってくる通知文。
	// 通知文はサーバー側で生成するため、この値は使用しない。
	Text string `json:"text"`
}

// sendEventNotificationRequest は全体イベント配信リクエストのJSON構造。
type sendEventNotificationRequest struct {
	// Message は配信するイベントのメッセージ本文。
	Message string `json:"message" binding:"required"`
}

// fieldErrors はフィールド単位のバリデーションエラー。
// シリアライザー形式（フィールド名 → メッセージ列）でクライアントへ返す。
type fieldErrors map[string][]string

// bindingFieldErrors はGinのバインディングエラーをフィールド単位のエラーへ変換する。
func bindingFieldErrors(err error) fieldErrors {
	fe := fieldErrors{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			field := strings.ToLower(v.Field())
			fe[field] = append(fe[field], "This field is required.")
		}
		return fe
	}
	fe["non_field_errors"] = []string{err.Error()}
	return fe
}

// userResponse はIDサービスのユーザー取得レスポンスのJSON構造。
type userResponse struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// FirstName はユーザーの名。
	FirstName string `json:"first_name"`
	// LastName はユーザーの姓。
	LastName string `json:"last_name"`
}

// displayName は通知文の整形に使う表示名（名 + 姓）を返す。
func (u *userResponse) displayName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", u.FirstName, u.LastName))
}

// blogResponse はブログサービスのブログ取得レスポンスのJSON構造。
type blogResponse struct {
	// ID はブログの一意識別子。
	ID string `json:"id"`
}

// handleSendBlogNotification はブログ通知を発行するハンドラ。
// 検証 → 通知文生成 → 永続化 → ファンアウトの順で処理し、
// 永続化より前のエラーでは一切の副作用を残さない。
func (s *Server) handleSendBlogNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendBlogNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, bindingFieldErrors(err))
			return
		}

		fe, err := s.publishBlogNotification(c.Request.Context(), req)
		if fe != nil {
			c.JSON(http.StatusBadRequest, fe)
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の保存に失敗しました"})
			log.Printf("通知発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, respNotifySuccess)
	}
}

// publishBlogNotification は検証済みリクエストから通知を発行する。
// フィールドエラーを返した場合は副作用が発生していないことを保証する。
// 永続化成功後のファンアウトはベストエフォートであり、結果に影響しない。
func (s *Server) publishBlogNotification(ctx context.Context, req sendBlogNotificationRequest) (fieldErrors, error) {
	// 参照先IDが外部サービスで解決できることを確認する
	var sender userResponse
	if err := s.identityClient.GetJSON(ctx, "/api/v1/users/"+req.Sender, &sender); err != nil {
		log.Printf("送信者の解決に失敗: id=%s, err=%v", req.Sender, err)
		return fieldErrors{"sender": []string{"User not found."}}, nil
	}

	var receiver userResponse
	if err := s.identityClient.GetJSON(ctx, "/api/v1/users/"+req.Receiver, &receiver); err != nil {
		log.Printf("受信者の解決に失敗: id=%s, err=%v", req.Receiver, err)
		return fieldErrors{"receiver": []string{"User not found."}}, nil
	}

	var blog blogResponse
	if err := s.blogClient.GetJSON(ctx, "/api/v1/blogs/"+req.Blog, &blog); err != nil {
		log.Printf("ブログの解決に失敗: id=%s, err=%v", req.Blog, err)
		return fieldErrors{"blog": []string{"Blog not found."}}, nil
	}

	// 通知文を生成する。未定義の種別の場合はレコードを作らずに中断する
	eventType := EventType(req.Type)
	text, err := generateMessage(eventType, sender.displayName())
	if err != nil {
		return fieldErrors{"type": []string{fmt.Sprintf("%q is not a valid choice.", req.Type)}}, nil
	}

	// タイムスタンプは永続化時にサーバーが一度だけ採番する
	notification := notificationdb.CreateAppNotificationParams{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		BlogID:     req.Blog,
		SenderID:   req.Sender,
		ReceiverID: req.Receiver,
	}
	if err := s.queries.CreateAppNotification(ctx, notification); err != nil {
		return nil, fmt.Errorf("通知レコードの作成に失敗: %w", err)
	}

	// NotificationCreatedイベントをEvent Storeに送信する（ベストエフォート）
	s.appendEvent(notification.ReceiverID, event.AggregateTypeUser, event.TypeNotificationCreated, event.NotificationCreatedData{
		NotificationID: notification.ID,
		ReceiverID:     notification.ReceiverID,
		BlogID:         notification.BlogID,
		EventType:      notification.Type,
		Text:           notification.Text,
	})

	// 受信者のチャンネルへファンアウトする。受信者がオフラインでも発行自体は成功
	s.hub.broadcast(notificationChannelKey(req.Receiver), pushMessage{
		kind:      pushNotification,
		blogID:    req.Blog,
		text:      text,
		eventType: eventType,
	})

	return nil, nil
}

// handleSendEventNotification は全接続ユーザーへイベントを配信するハンドラ。
// 挨拶と本文の整形は接続ごとに行われるため、ここでは本文をそのまま渡す。
func (s *Server) handleSendEventNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendEventNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, bindingFieldErrors(err))
			return
		}

		// BroadcastEventPublishedイベントをEvent Storeに送信する（ベストエフォート）
		s.appendEvent(broadcastChannelKey, event.AggregateTypeChannel, event.TypeBroadcastEventPublished, event.BroadcastEventPublishedData{
			Message: req.Message,
		})

		s.hub.broadcast(broadcastChannelKey, pushMessage{
			kind: pushBroadcastEvent,
			body: req.Message,
		})

		c.JSON(http.StatusOK, respEventSuccess)
	}
}

// appendEvent はEvent Storeへプラットフォームイベントを追記する。
// 追記に失敗してもログに記録するだけで、呼び出し元の処理は成功として扱う。
func (s *Server) appendEvent(aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	e, err := event.New(aggregateID, aggregateType, eventType, 1, data)
	if err != nil {
		log.Printf("イベントの生成に失敗: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.eventStoreClient.PostJSON(ctx, "/api/v1/events", e, nil); err != nil {
		log.Printf("%sイベントの送信に失敗: %v", eventType, err)
	}
}
