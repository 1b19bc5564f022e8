package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS は許可したオリジンからのクロスオリジンリクエストを受け入れる
// Ginミドルウェアを返す。フロントエンドから通知一覧APIへアクセスする
// ために使用する。WebSocketのオリジン検査はアップグレーダー側で行う。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		// キャッシュがオリジンごとにレスポンスを分けられるようにする
		c.Header("Vary", "Origin")

		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "86400")
		}

		// プリフライトはここで完結させる
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
