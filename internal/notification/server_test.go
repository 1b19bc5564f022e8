package notification

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	notificationdb "github.com/bloghub/notification/internal/notification/db"
	"github.com/bloghub/notification/pkg/httpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testUsers はモックIDサービスが解決できるユーザーの一覧。
var testUsers = map[string]userResponse{
	"user-1": {ID: "user-1", FirstName: "Bob", LastName: "Carter"},
	"42":     {ID: "42", FirstName: "Alice", LastName: "Liddell"},
}

// testTokens はモックIDサービスが受理するトークンとユーザー情報の対応。
var testTokens = map[string]identity{
	"token-alice": {UserID: "42", FirstName: "Alice", LastName: "Liddell"},
	"token-bob":   {UserID: "user-1", FirstName: "Bob", LastName: "Carter"},
}

// testCollaborators はモックの外部サービスへの呼び出し状況を保持する。
type testCollaborators struct {
	// eventStoreCalls はEvent Storeへの追記リクエスト数。
	eventStoreCalls atomic.Int64
}

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteで構築する。
// IDサービス・ブログサービス・Event Storeのモックも生成し、
// テスト終了時にクリーンアップする。
func setupTestServer(t *testing.T) (*Server, *gin.Engine, *testCollaborators) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	collab := &testCollaborators{}

	// IDサービスのモック: トークン検証とユーザー解決を提供する
	identitySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/auth/verify":
			var req verifyTokenRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			ident, ok := testTokens[req.Token]
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(ident)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/users/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
			user, ok := testUsers[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(user)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(identitySrv.Close)

	// ブログサービスのモック: blog-1のみ解決できる
	blogSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/v1/blogs/blog-1" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"blog-1"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(blogSrv.Close)

	// Event Storeのモック: 追記リクエスト数を数える
	eventStore := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		collab.eventStoreCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"mock-event-id"}`)
	}))
	t.Cleanup(eventStore.Close)

	identityClient := httpclient.New(identitySrv.URL)

	router := gin.New()
	router.HandleMethodNotAllowed = true

	s := &Server{
		router:           router,
		port:             "0",
		queries:          notificationdb.New(sqlDB),
		db:               sqlDB,
		hub:              newHub(),
		gate:             newAuthGate(identityClient),
		identityClient:   identityClient,
		blogClient:       httpclient.New(blogSrv.URL),
		eventStoreClient: httpclient.New(eventStore.URL),
		upgrader:         newUpgrader("http://localhost:3000"),
	}

	// WebSocket接続の受け入れ
	ws := router.Group("/ws")
	{
		ws.GET("/notification/:user_id", s.handleNotificationSocket())
		ws.GET("/event", s.handleEventSocket())
	}

	// JWTミドルウェアの代わりにテスト用のユーザーID設定ミドルウェアを使用する
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	{
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleList())
			notifications.POST("/send-blog-notification", s.handleSendBlogNotification())
			notifications.POST("/send-event-notification", s.handleSendEventNotification())
		}
	}
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "このメソッドには対応していません"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})

	return s, router, collab
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// countNotifications は受信者宛の通知レコード数をDBから直接取得するヘルパー関数。
func countNotifications(t *testing.T, s *Server, receiverID string) int64 {
	t.Helper()
	count, err := s.queries.CountAppNotificationsByReceiver(context.Background(), receiverID)
	if err != nil {
		t.Fatalf("通知件数の取得に失敗: %v", err)
	}
	return count
}

// validSendBody はブログ通知発行の正常なリクエストボディを返すヘルパー関数。
func validSendBody() map[string]string {
	return map[string]string{
		"blog":     "blog-1",
		"sender":   "user-1",
		"receiver": "42",
		"type":     "comment",
	}
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	_, router, _ := setupTestServer(t)

	w := doRequest(router, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	result := parseJSON(t, w)
	if result["service"] != "notification" {
		t.Errorf("service: got %v, want notification", result["service"])
	}
}

// TestHandleSendBlogNotification はブログ通知発行ハンドラのテスト。
func TestHandleSendBlogNotification(t *testing.T) {
	t.Parallel()

	t.Run("正常な発行で201とレコードが1件作成されること", func(t *testing.T) {
		t.Parallel()
		s, router, collab := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", validSendBody())

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["Response"] != "User notified successfully." {
			t.Errorf("Response: got %v, want %q", result["Response"], "User notified successfully.")
		}

		if got := countNotifications(t, s, "42"); got != 1 {
			t.Errorf("通知レコード数: got %d, want 1", got)
		}
		if got := collab.eventStoreCalls.Load(); got != 1 {
			t.Errorf("Event Store追記数: got %d, want 1", got)
		}
	})

	t.Run("受信者の接続が無くても発行は成功すること", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		// ハブには誰も登録されていない
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", validSendBody())

		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusCreated)
		}
		if got := countNotifications(t, s, "42"); got != 1 {
			t.Errorf("通知レコード数: got %d, want 1", got)
		}
	})

	t.Run("通知文はサーバー側で生成され送信者の表示名が使われること", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		body := validSendBody()
		body["text"] = "クライアントが勝手に指定した文"
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", body)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		notifications, err := s.queries.ListAppNotificationsByReceiver(context.Background(), notificationdb.ListAppNotificationsByReceiverParams{
			ReceiverID: "42",
			Limit:      10,
			Offset:     0,
		})
		if err != nil {
			t.Fatalf("通知一覧の取得に失敗: %v", err)
		}
		if len(notifications) != 1 {
			t.Fatalf("通知レコード数: got %d, want 1", len(notifications))
		}
		if notifications[0].Text != "Bob Carter commented on your blog." {
			t.Errorf("text: got %q, want %q", notifications[0].Text, "Bob Carter commented on your blog.")
		}
	})

	t.Run("未定義の通知種別ではレコードが作成されないこと", func(t *testing.T) {
		t.Parallel()
		s, router, collab := setupTestServer(t)

		body := validSendBody()
		body["type"] = "subscribe"
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}

		result := parseJSON(t, w)
		if result["type"] == nil {
			t.Errorf("typeフィールドのエラーがありません: body=%s", w.Body.String())
		}

		if got := countNotifications(t, s, "42"); got != 0 {
			t.Errorf("通知レコード数: got %d, want 0", got)
		}
		if got := collab.eventStoreCalls.Load(); got != 0 {
			t.Errorf("Event Store追記数: got %d, want 0", got)
		}
	})

	t.Run("必須フィールド欠落でフィールド単位のエラーが返ること", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		body := map[string]string{"blog": "blog-1"}
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", body)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}

		result := parseJSON(t, w)
		for _, field := range []string{"sender", "receiver", "type"} {
			if result[field] == nil {
				t.Errorf("%sフィールドのエラーがありません: body=%s", field, w.Body.String())
			}
		}

		if got := countNotifications(t, s, "42"); got != 0 {
			t.Errorf("通知レコード数: got %d, want 0", got)
		}
	})

	t.Run("解決できない送信者IDでsenderフィールドのエラーが返ること", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		body := validSendBody()
		body["sender"] = "ghost-user"
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}

		result := parseJSON(t, w)
		if result["sender"] == nil {
			t.Errorf("senderフィールドのエラーがありません: body=%s", w.Body.String())
		}
		if got := countNotifications(t, s, "42"); got != 0 {
			t.Errorf("通知レコード数: got %d, want 0", got)
		}
	})

	t.Run("解決できないブログIDでblogフィールドのエラーが返ること", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		body := validSendBody()
		body["blog"] = "blog-404"
		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}

		result := parseJSON(t, w)
		if result["blog"] == nil {
			t.Errorf("blogフィールドのエラーがありません: body=%s", w.Body.String())
		}
		if got := countNotifications(t, s, "42"); got != 0 {
			t.Errorf("通知レコード数: got %d, want 0", got)
		}
	})

	t.Run("GETメソッドでは405が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications/send-blog-notification", "system", nil)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})
}

// TestHandleSendEventNotification は全体イベント配信ハンドラのテスト。
func TestHandleSendEventNotification(t *testing.T) {
	t.Parallel()

	t.Run("接続が無くても配信は成功すること", func(t *testing.T) {
		t.Parallel()
		_, router, collab := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-event-notification", "system",
			map[string]string{"message": "new issue released"})

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := collab.eventStoreCalls.Load(); got != 1 {
			t.Errorf("Event Store追記数: got %d, want 1", got)
		}
	})

	t.Run("messageが未指定の場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-event-notification", "system",
			map[string]string{})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}

		result := parseJSON(t, w)
		if result["message"] == nil {
			t.Errorf("messageフィールドのエラーがありません: body=%s", w.Body.String())
		}
	})
}

// TestHandleList は通知一覧取得ハンドラのテスト。
func TestHandleList(t *testing.T) {
	t.Parallel()

	// publishN はn件の通知を発行するヘルパー
	publishN := func(t *testing.T, router *gin.Engine, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			w := doRequest(router, http.MethodPost, "/api/v1/notifications/send-blog-notification", "system", validSendBody())
			if w.Code != http.StatusCreated {
				t.Fatalf("通知%dの発行に失敗: status=%d, body=%s", i, w.Code, w.Body.String())
			}
		}
	}

	t.Run("通知が存在しない場合は空のresultsを返す", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications", "42", nil)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		result := parseJSON(t, w)
		results, ok := result["results"].([]any)
		if !ok {
			t.Fatalf("resultsが配列ではありません: body=%s", w.Body.String())
		}
		if len(results) != 0 {
			t.Errorf("結果の件数: got %d, want 0", len(results))
		}
	})

	t.Run("自分宛の通知のみが返されフィールドが正しいこと", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)
		publishN(t, router, 1)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications", "42", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		result := parseJSON(t, w)
		results, _ := result["results"].([]any)
		if len(results) != 1 {
			t.Fatalf("結果の件数: got %d, want 1", len(results))
		}

		notif, _ := results[0].(map[string]any)
		if notif["type"] != "comment" {
			t.Errorf("type: got %v, want comment", notif["type"])
		}
		if notif["text"] != "Bob Carter commented on your blog." {
			t.Errorf("text: got %v, want %q", notif["text"], "Bob Carter commented on your blog.")
		}
		if notif["blog_id"] != "blog-1" {
			t.Errorf("blog_id: got %v, want blog-1", notif["blog_id"])
		}
		if notif["sender_id"] != "user-1" {
			t.Errorf("sender_id: got %v, want user-1", notif["sender_id"])
		}
		if notif["receiver_id"] != "42" {
			t.Errorf("receiver_id: got %v, want 42", notif["receiver_id"])
		}
		if notif["timestamp"] == nil || notif["timestamp"] == "" {
			t.Error("timestampが空です")
		}

		// 他ユーザーの一覧には含まれない
		w2 := doRequest(router, http.MethodGet, "/api/v1/notifications", "user-1", nil)
		other := parseJSON(t, w2)
		otherResults, _ := other["results"].([]any)
		if len(otherResults) != 0 {
			t.Errorf("他ユーザーの結果の件数: got %d, want 0", len(otherResults))
		}
	})

	t.Run("10件を超える通知は次のページに分かれること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)
		publishN(t, router, 12)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications?page=1", "42", nil)
		result := parseJSON(t, w)
		if got, _ := result["count"].(float64); int(got) != 12 {
			t.Errorf("count: got %v, want 12", result["count"])
		}
		results, _ := result["results"].([]any)
		if len(results) != 10 {
			t.Errorf("1ページ目の件数: got %d, want 10", len(results))
		}

		w2 := doRequest(router, http.MethodGet, "/api/v1/notifications?page=2", "42", nil)
		result2 := parseJSON(t, w2)
		results2, _ := result2["results"].([]any)
		if len(results2) != 2 {
			t.Errorf("2ページ目の件数: got %d, want 2", len(results2))
		}
	})

	t.Run("不正なページ番号は1ページ目として扱われること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)
		publishN(t, router, 1)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications?page=zero", "42", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		result := parseJSON(t, w)
		if got, _ := result["page"].(float64); int(got) != 1 {
			t.Errorf("page: got %v, want 1", result["page"])
		}
	})

	t.Run("ユーザーIDが未設定の場合はUnauthorized", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/notifications", "", nil)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}
