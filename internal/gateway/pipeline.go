package gateway

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/store"
	"github.com/nao1215/authgate/pkg/token"
)

// contextKeySubject は認可済みユーザーIDを保持するGinコンテキストキー。
const contextKeySubject = "user_id"

// Gatewayが返すエラーコード。クライアントはこのコードで失敗理由を判別する。
const (
	// codeAccessDeniedIP はIPフィルターによる拒否。
	codeAccessDeniedIP = "ACCESS_DENIED_IP"
	// codeTooManyRequests はレート制限による拒否。
	codeTooManyRequests = "TOO_MANY_REQUESTS"
	// codeLoginRequired はアクセストークン未提示による拒否。
	codeLoginRequired = "LOGIN_REQUIRED"
	// codeInvalidToken は無効なトークンによる拒否。
	codeInvalidToken = "INVALID_TOKEN"
	// codeAPINotFound は未登録APIへのアクセスによる拒否。
	codeAPINotFound = "API_NOT_FOUND"
	// codeAccessDenied はロール不一致による拒否。
	codeAccessDenied = "ACCESS_DENIED"
	// codeAuthServerError は認証サービスとの通信失敗。
	codeAuthServerError = "AUTH_SERVER_ERROR"
)

// abortWith はエラーコード付きのJSONレスポンスを返して処理を打ち切る。
func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": message})
}

// ipFilter は許可リストに含まれないクライアントIPを拒否するミドルウェアを返す。
// 許可リストが空の場合は全クライアントを許可する。
func (s *Server) ipFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.allowedIPs) == 0 {
			c.Next()
			return
		}
		if _, ok := s.allowedIPs[c.ClientIP()]; !ok {
			abortWith(c, http.StatusForbidden, codeAccessDeniedIP, "アクセスが許可されていないIPアドレスです")
			return
		}
		c.Next()
	}
}

// rateLimit はクライアントIP単位でリクエスト数を制限するミドルウェアを返す。
// ストア障害時は安全側に倒してリクエストを拒否する。
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Printf("レート制限の判定に失敗: client=%s, error=%v", c.ClientIP(), err)
			abortWith(c, http.StatusInternalServerError, codeAuthServerError, "レート制限の判定に失敗しました")
			return
		}
		if !allowed {
			abortWith(c, http.StatusTooManyRequests, codeTooManyRequests, "リクエスト数が上限を超えました。しばらく待ってから再試行してください")
			return
		}
		c.Next()
	}
}

// admission はトークン検証・リフレッシュ回復・ロール認可を行うミドルウェアを返す。
// 除外経路に一致するリクエストは検証なしで通過させる。
func (s *Server) admission() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.isExcludedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortWith(c, http.StatusUnauthorized, codeLoginRequired, "ログインが必要です")
			return
		}

		raw, ok := token.StripBearer(header)
		if !ok {
			abortWith(c, http.StatusUnauthorized, codeInvalidToken, "トークンの形式が不正です")
			return
		}

		// 署名をローカルで検証してからクレームを使う。リフレッシュ回復に
		// 進めるのは署名が正しく期限のみ切れたトークンだけで、署名不正の
		// トークンが他人のリフレッシュスロットを引けてはならない。
		claims, err := s.codec.Decode(raw)
		authHeader := header
		switch {
		case err == nil:
			var valid bool
			if err := s.authClient.GetJSON(c.Request.Context(), "/api/auth/verify?accessToken="+url.QueryEscape(header), &valid); err != nil {
				log.Printf("トークン検証リクエストに失敗: error=%v", err)
				abortWith(c, http.StatusInternalServerError, codeAuthServerError, "認証サービスとの通信に失敗しました")
				return
			}
			if !valid {
				abortWith(c, http.StatusUnauthorized, codeInvalidToken, "トークンが無効です")
				return
			}
		case errors.Is(err, token.ErrExpired):
			newToken, recovered := s.tryRefreshRecovery(c, claims)
			if !recovered {
				return
			}
			c.Header("Authorization", newToken)
			authHeader = newToken
		default:
			abortWith(c, http.StatusUnauthorized, codeInvalidToken, "トークンが無効です")
			return
		}

		if !s.authorize(c, claims) {
			return
		}

		c.Request.Header.Set("Authorization", authHeader)
		c.Set(contextKeySubject, claims.Subject)
		c.Next()
	}
}

// isExcludedPath は経路が認証免除リストに含まれるかを判定する。
// リストの各要素と前方一致で照合する。
func (s *Server) isExcludedPath(path string) bool {
	for _, p := range s.excludePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// tryRefreshRecovery は期限切れアクセストークンをリフレッシュトークンで回復する。
// claimsは署名検証済みであること。回復できた場合は新しいアクセストークンを
// 返す。失敗時はレスポンスを書き込み済み。
func (s *Server) tryRefreshRecovery(c *gin.Context, claims *token.Claims) (string, bool) {
	key := store.TokenKey(token.CategoryRefresh, claims.Subject)
	value, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWith(c, http.StatusUnauthorized, codeInvalidToken, "再ログインが必要です")
			return "", false
		}
		log.Printf("リフレッシュトークンの照会に失敗: subject=%s, error=%v", claims.Subject, err)
		abortWith(c, http.StatusInternalServerError, codeAuthServerError, "認証情報の照会に失敗しました")
		return "", false
	}

	record, err := store.DecodeRecord(value)
	if err != nil || record.ExpiresAt.Before(time.Now()) {
		abortWith(c, http.StatusUnauthorized, codeInvalidToken, "再ログインが必要です")
		return "", false
	}

	newToken, err := s.authClient.PostText(c.Request.Context(), "/api/auth/reIssue", map[string]string{
		"username": claims.Subject,
		"role":     claims.Role,
	})
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			abortWith(c, http.StatusUnauthorized, codeInvalidToken, "再ログインが必要です")
			return "", false
		}
		log.Printf("トークンの再発行に失敗: subject=%s, error=%v", claims.Subject, err)
		abortWith(c, http.StatusInternalServerError, codeAuthServerError, "トークンの再発行に失敗しました")
		return "", false
	}

	return newToken, true
}

// authorize はリクエスト経路に必要なロールをトークンのロールと照合する。
// 認可できない場合はレスポンスを書き込み、falseを返す。
func (s *Server) authorize(c *gin.Context, claims *token.Claims) bool {
	var roles []string
	err := s.authClient.GetJSON(c.Request.Context(), "/api/auth/role?apiPath="+url.QueryEscape(c.Request.URL.Path), &roles)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			abortWith(c, http.StatusNotFound, codeAPINotFound, "登録されていないAPIです")
			return false
		}
		log.Printf("ロール情報の取得に失敗: path=%s, error=%v", c.Request.URL.Path, err)
		abortWith(c, http.StatusInternalServerError, codeAuthServerError, "ロール情報の取得に失敗しました")
		return false
	}

	for _, role := range roles {
		if role == claims.Role {
			return true
		}
	}
	abortWith(c, http.StatusForbidden, codeAccessDenied, "このAPIへのアクセス権限がありません")
	return false
}
