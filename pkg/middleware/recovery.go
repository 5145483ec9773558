package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// ハンドラ内のパニックを500応答に変換し、原因とスタックトレースを
// ログに残す。応答はGatewayの入場パイプラインと同じ
// {"code", "error"} 形式で返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, r, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":  "INTERNAL_SERVER_ERROR",
					"error": "サーバー内部でエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
