package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/nao1215/authgate/pkg/store"
	"github.com/nao1215/authgate/pkg/token"
)

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// tokens はトークンライフサイクルの管理サービス。
	tokens *TokenService
	// rbac はAPI経路→許可ロールのリゾルバ。
	rbac *RBAC
	// db はRBACマッピングを保持するSQLiteデータベース接続。
	db *sql.DB
	// store はトークンレコードを保持する共有ストア。
	store store.Store
}

// NewServer は新しい認証サーバーを生成する。
// SQLiteのスキーマ初期化と共有ストア（Redis）への接続を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", getEnvOr("AUTH_DB_PATH", "/data/auth.db?_journal_mode=WAL&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	kv, err := store.NewRedis(getEnvOr("REDIS_ADDR", "localhost:6379"))
	if err != nil {
		return nil, fmt.Errorf("トークンストアへの接続に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	accessTTL, err := time.ParseDuration(getEnvOr("ACCESS_TOKEN_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTLの解析に失敗: %w", err)
	}
	refreshTTL, err := time.ParseDuration(getEnvOr("REFRESH_TOKEN_TTL", "168h"))
	if err != nil {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTLの解析に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router: router,
		port:   port,
		tokens: NewTokenService(token.NewCodec(jwtSecret), kv, accessTTL, refreshTTL),
		rbac:   NewRBAC(sqlDB),
		db:     sqlDB,
		store:  kv,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/auth")
	{
		// トークンペアの発行
		api.POST("/login", s.handleLogin())
		// トークンのステートレス検証
		api.GET("/verify", s.handleVerify())
		// アクセストークンの再発行（リフレッシュトークンもローテーション）
		api.POST("/reIssue", s.handleReissue())
		// ログアウト（両種別のレコード削除）
		api.DELETE("/logout", s.handleLogout())
		// API経路の許可ロール照会
		api.GET("/role", s.handleRoles())
		// API経路と許可ロールのバインディング登録（管理用）
		api.POST("/role", s.handleRegisterRoles())
		// トークンレコードの診断用照会
		api.GET("/token", s.handleTokenRecord())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "auth"})
	})
}

// userInfoRequest はトークン操作リクエストのJSON構造。
type userInfoRequest struct {
	// Username はsubject（ユーザー識別子）。
	Username string `json:"username" binding:"required"`
	// Role はsubjectに付与するロール名。
	Role string `json:"role" binding:"required"`
}

// handleLogin はトークンペアの発行を処理するハンドラを返す。
// アクセス・リフレッシュ両方のレコードをストアに保存し、
// アクセストークン文字列のみを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userInfoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameとroleは必須です"})
			return
		}

		accessToken, err := s.tokens.Login(c.Request.Context(), req.Username, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("ログインエラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.String(http.StatusOK, accessToken)
	}
}

// handleVerify はトークンのステートレス検証を処理するハンドラを返す。
// 署名と有効期限のみを確認し、ストアは参照しない。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := c.Query("accessToken")
		if accessToken == "" {
			c.JSON(http.StatusBadRequest, false)
			return
		}

		c.JSON(http.StatusOK, s.tokens.Validate(accessToken))
	}
}

// handleReissue はアクセストークンの再発行を処理するハンドラを返す。
// リフレッシュトークンが無効な場合は401を返す。
func (s *Server) handleReissue() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userInfoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameとroleは必須です"})
			return
		}

		newAccessToken, err := s.tokens.Reissue(c.Request.Context(), req.Username, req.Role)
		if errors.Is(err, ErrRefreshTokenInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "リフレッシュトークンが無効です"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの再発行に失敗しました"})
			log.Printf("再発行エラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.String(http.StatusOK, newAccessToken)
	}
}

// handleLogout はログアウトを処理するハンドラを返す。
// subjectのアクセス・リフレッシュ両方のレコードを削除する。冪等。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userInfoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameとroleは必須です"})
			return
		}

		if err := s.tokens.Logout(c.Request.Context(), req.Username); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			log.Printf("ログアウトエラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.Status(http.StatusOK)
	}
}

// handleRoles はAPI経路の許可ロール照会を処理するハンドラを返す。
// 未登録の経路は404を返す。
func (s *Server) handleRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiPath := c.Query("apiPath")
		if apiPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "apiPathは必須です"})
			return
		}

		roles, err := s.rbac.RolesFor(c.Request.Context(), apiPath)
		if errors.Is(err, ErrAPINotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API経路が存在しません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "許可ロールの取得に失敗しました"})
			log.Printf("許可ロール取得エラー: apiPath=%s, error=%v", apiPath, err)
			return
		}

		c.JSON(http.StatusOK, roles)
	}
}

// roleBindingRequest はロールバインディング登録リクエストのJSON構造。
type roleBindingRequest struct {
	// APIPath はバインディング対象のAPI経路。
	APIPath string `json:"apiPath" binding:"required"`
	// Roles は経路に許可するロール名の一覧。
	Roles []string `json:"roles" binding:"required"`
}

// handleRegisterRoles はAPI経路と許可ロールのバインディング登録を
// 処理するハンドラを返す。冪等なので再実行しても安全。
func (s *Server) handleRegisterRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleBindingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "apiPathとrolesは必須です"})
			return
		}

		if err := s.rbac.RegisterAPI(c.Request.Context(), req.APIPath, req.Roles...); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "バインディングの登録に失敗しました"})
			log.Printf("バインディング登録エラー: apiPath=%s, error=%v", req.APIPath, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"apiPath": req.APIPath, "roles": req.Roles})
	}
}

// handleTokenRecord はトークンレコードの診断用照会を処理するハンドラを返す。
func (s *Server) handleTokenRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		category := c.Query("category")
		username := c.Query("username")
		if category == "" || username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "categoryとusernameは必須です"})
			return
		}

		rec, err := s.tokens.TokenRecord(c.Request.Context(), category, username)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "トークンレコードが存在しません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンレコードの取得に失敗しました"})
			log.Printf("トークンレコード取得エラー: category=%s, username=%s, error=%v", category, username, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"subject":   rec.Subject,
			"category":  rec.Category,
			"expiresAt": rec.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
