package gateway

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/nao1215/authgate/pkg/ratelimit"
	"github.com/nao1215/authgate/pkg/store"
	"github.com/nao1215/authgate/pkg/token"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はリフレッシュトークンの照会に使用する共有ストア。
	store store.Store
	// limiter はクライアント単位のレート制限器。
	limiter *ratelimit.Limiter
	// authClient は認証サービスへのHTTPクライアント。
	authClient *httpclient.Client
	// codec はトークンの署名検証に使用する符号化器。認証サービスと
	// 同じ秘密鍵を共有する。
	codec *token.Codec
	// allowedIPs は許可するクライアントIPの集合。空の場合は全クライアントを許可する。
	allowedIPs map[string]struct{}
	// excludePaths は認証を免除する経路のリスト。
	excludePaths []string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
	// proxyClient は内部サービスへの転送に使用するHTTPクライアント。
	proxyClient *http.Client
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	User  string
	Order string
}

// NewServer は新しいGatewayサーバーを生成する。
// 共有ストア（Redis）への接続と入場パイプラインの設定読み込みを行う。
func NewServer(port string) (*Server, error) {
	kv, err := store.NewRedis(getEnvOr("REDIS_ADDR", "localhost:6379"))
	if err != nil {
		return nil, fmt.Errorf("共有ストアへの接続に失敗: %w", err)
	}

	maxRequests, err := strconv.ParseInt(getEnvOr("RATE_LIMIT_MAX", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_MAXの解析に失敗: %w", err)
	}
	window, err := time.ParseDuration(getEnvOr("RATE_LIMIT_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOWの解析に失敗: %w", err)
	}

	urls := serviceURLConfig{
		User:  getEnvOr("USER_URL", "http://localhost:19091"),
		Order: getEnvOr("ORDER_URL", "http://localhost:19093"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:       router,
		port:         port,
		store:        kv,
		limiter:      ratelimit.New(kv, maxRequests, window),
		authClient:   httpclient.New(getEnvOr("AUTH_URL", "http://localhost:19092")),
		codec:        token.NewCodec(getEnvOr("JWT_SECRET", "dev-secret-key")),
		allowedIPs:   parseCommaSet(os.Getenv("ALLOWED_IPS")),
		excludePaths: parseCommaList(getEnvOr("EXCLUDE_PATHS", "/api/user/login,/api/user/register,/health")),
		serviceURLs:  urls,
		proxyClient:  &http.Client{Timeout: 30 * time.Second},
	}
	s.setupRoutes()

	return s, nil
}

// parseCommaSet はカンマ区切りの文字列を集合に変換する。
// 空文字列の場合は空の集合を返す。
func parseCommaSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, v := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

// parseCommaList はカンマ区切りの文字列をスライスに変換する。
func parseCommaList(raw string) []string {
	list := make([]string, 0, 4)
	for _, v := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes は入場パイプラインとAPIルーティングを設定する。
// パイプラインの各段は登録順に実行され、拒否した段で処理を打ち切る。
func (s *Server) setupRoutes() {
	s.router.Use(s.ipFilter())
	s.router.Use(s.rateLimit())
	s.router.Use(s.admission())

	// ユーザーサービス（プロキシ）
	s.router.Any("/api/user/*rest", s.handleProxy(s.serviceURLs.User))

	// 注文サービス（プロキシ）
	s.router.Any("/api/orders", s.handleProxy(s.serviceURLs.Order))
	s.router.Any("/api/orders/*rest", s.handleProxy(s.serviceURLs.Order))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// handleProxy は指定されたサービスにリクエストを転送するハンドラを返す。
// 元のリクエストの経路とクエリ文字列をそのまま引き継ぐ。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// doProxy はリクエストを内部サービスに転送する共通処理。
// 認証ヘッダーと認可済みユーザーIDを内部サービスに引き継ぐ。
func (s *Server) doProxy(c *gin.Context, method, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	if subject := c.GetString(contextKeySubject); subject != "" {
		req.Header.Set("X-User-ID", subject)
	}

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		log.Printf("プロキシエラー: url=%s, error=%v", url, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
