package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS は許可されたオリジンからのクロスオリジンリクエストを受け入れる
// Ginミドルウェアを返す。リフレッシュ回復時にGatewayが付け替える
// AuthorizationレスポンスヘッダーをブラウザのJSから読み取れるよう、
// Expose-Headersで公開する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := originSet[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Expose-Headers", "Authorization")
			c.Header("Access-Control-Max-Age", "3600")
		}
		// オリジンごとに応答が変わるためキャッシュを分離する
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
