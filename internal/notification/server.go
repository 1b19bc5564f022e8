package notification

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	notificationdb "github.com/bloghub/notification/internal/notification/db"
	"github.com/bloghub/notification/pkg/httpclient"
	"github.com/bloghub/notification/pkg/middleware"
)

// notificationsPerPage は通知一覧の1ページあたりの件数。
const notificationsPerPage = 10

// respNotifySuccess は通知送信成功時のレスポンスボディ。
var respNotifySuccess = gin.H{"Response": "User notified successfully."}

// respEventSuccess はイベント配信成功時のレスポンスボディ。
var respEventSuccess = gin.H{"Response": "Users notified successfully."}

// Server は通知サービスのHTTPサーバー。
// REST APIとWebSocketの両方を同じルーターで提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *notificationdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// hub はチャンネルと接続の対応を保持するレジストリ。
	hub *hub
	// gate は接続受け入れ時の認可ゲート。
	gate *authGate
	// identityClient はIDサービスへの通信クライアント。
	identityClient *httpclient.Client
	// blogClient はブログサービスへの通信クライアント。
	blogClient *httpclient.Client
	// eventStoreClient はEvent Storeサービスへの通信クライアント。
	eventStoreClient *httpclient.Client
	// upgrader はWebSocketへのプロトコル昇格を行う。
	upgrader websocket.Upgrader
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ適用を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/notification.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	identityURL := getEnvOr("IDENTITY_URL", "http://localhost:8087")
	blogURL := getEnvOr("BLOG_URL", "http://localhost:8081")
	eventStoreURL := getEnvOr("EVENTSTORE_URL", "http://localhost:8084")
	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))
	router.HandleMethodNotAllowed = true

	identityClient := httpclient.New(identityURL)

	s := &Server{
		router:           router,
		port:             port,
		queries:          notificationdb.New(sqlDB),
		db:               sqlDB,
		hub:              newHub(),
		gate:             newAuthGate(identityClient),
		identityClient:   identityClient,
		blogClient:       httpclient.New(blogURL),
		eventStoreClient: httpclient.New(eventStoreURL),
		upgrader:         newUpgrader(frontendURL),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// newUpgrader はフロントエンドのオリジンのみ許可するWebSocketアップグレーダーを生成する。
func newUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
}

// setupRoutes はAPIとWebSocketのルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	// WebSocket接続の受け入れ。認可はゲートが接続ごとに行う。
	ws := s.router.Group("/ws")
	{
		// ユーザー個別の通知チャンネル
		ws.GET("/notification/:user_id", s.handleNotificationSocket())
		// 全接続ユーザー向けのイベントチャンネル
		ws.GET("/event", s.handleEventSocket())
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（10件ごとのページネーション）
			notifications.GET("", s.handleList())
			// ブログ通知の発行（内部API - ブログサービスから呼び出される）
			notifications.POST("/send-blog-notification", s.handleSendBlogNotification())
			// 全体イベントの配信（内部API - マガジンサービスから呼び出される）
			notifications.POST("/send-event-notification", s.handleSendEventNotification())
		}
	}

	// 未対応メソッドは405を返す
	s.router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "このメソッドには対応していません"})
	})

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Type は通知種別。
	Type string `json:"type"`
	// Text は生成済みの通知文。
	Text string `json:"text"`
	// Timestamp は永続化時に採番された日時（RFC3339形式）。
	Timestamp string `json:"timestamp"`
	// BlogID は通知対象のブログID。
	BlogID string `json:"blog_id"`
	// SenderID は通知を発生させたユーザーのID。
	SenderID string `json:"sender_id"`
	// ReceiverID は通知を受け取るユーザーのID。
	ReceiverID string `json:"receiver_id"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n notificationdb.AppNotification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		Type:       n.Type,
		Text:       n.Text,
		Timestamp:  n.Timestamp.Format(time.RFC3339),
		BlogID:     n.BlogID,
		SenderID:   n.SenderID,
		ReceiverID: n.ReceiverID,
	}
}

// handleList は認証済みユーザー宛の通知一覧をページネーション付きで返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}

		count, err := s.queries.CountAppNotificationsByReceiver(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知件数の取得に失敗しました"})
			log.Printf("通知件数取得エラー: %v", err)
			return
		}

		notifications, err := s.queries.ListAppNotificationsByReceiver(c.Request.Context(), notificationdb.ListAppNotificationsByReceiverParams{
			ReceiverID: userID,
			Limit:      notificationsPerPage,
			Offset:     int64(page-1) * notificationsPerPage,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		responses := make([]notificationResponse, 0, len(notifications))
		for _, n := range notifications {
			responses = append(responses, toNotificationResponse(n))
		}

		c.JSON(http.StatusOK, gin.H{
			"count":   count,
			"page":    page,
			"results": responses,
		})
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
