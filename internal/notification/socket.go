package notification

import (
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// socketToken はWebSocket接続リクエストから認証トークンを取り出す。
// ブラウザのWebSocket APIはヘッダーを設定できないため、クエリパラメータを優先する。
func socketToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return token
		}
	}
	return ""
}

// denyConnection は認可に失敗した接続をクローズコード4000で閉じる。
// レジストリには一切触れない。
func denyConnection(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(closeCodeConnectionDenied, "connection denied")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("[WS] 拒否コードの送信に失敗: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("[WS] 接続クローズに失敗: %v", err)
	}
}

// handleNotificationSocket はユーザー個別通知チャンネルへの接続を受け入れるハンドラ。
// 認可ゲートが肯定的な結果を返すまでレジストリへは登録しない。
func (s *Server) handleNotificationSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] プロトコル昇格に失敗: %v", err)
			return
		}

		ident, err := s.gate.authenticate(c.Request.Context(), socketToken(c))
		if err != nil {
			log.Printf("[WS] 接続を拒否しました: user_id=%s, err=%v", userID, err)
			denyConnection(conn)
			return
		}

		client := newClient(conn, s.hub, notificationChannelKey(userID), ident.FirstName)
		client.run()
	}
}

// handleEventSocket は全体イベントチャンネルへの接続を受け入れるハンドラ。
// 認証済みユーザーの名を保持し、配信時の挨拶に使用する。
func (s *Server) handleEventSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] プロトコル昇格に失敗: %v", err)
			return
		}

		ident, err := s.gate.authenticate(c.Request.Context(), socketToken(c))
		if err != nil {
			log.Printf("[WS] 接続を拒否しました: channel=%s, err=%v", broadcastChannelKey, err)
			denyConnection(conn)
			return
		}

		client := newClient(conn, s.hub, broadcastChannelKey, ident.FirstName)
		client.run()
	}
}
