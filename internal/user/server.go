package user

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/middleware"
)

// Server はユーザー管理サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// authClient は認証サービスへのHTTPクライアント。
	authClient *httpclient.Client
}

// NewServer は新しいユーザー管理サーバーを生成する。
// SQLiteデータベースへの接続とスキーマ初期化を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("USER_DB_PATH", "/data/user.db?_journal_mode=WAL&_busy_timeout=5000")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:     router,
		port:       port,
		db:         db,
		authClient: httpclient.New(getEnvOr("AUTH_URL", "http://localhost:19092")),
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
	api := s.router.Group("/api/user")
	{
		// ユーザー登録
		api.POST("/register", s.handleRegister())
		// ログイン（認証とトークン発行）
		api.POST("/login", s.handleLogin())
		// ログアウト（トークン失効）
		api.DELETE("/logout", s.handleLogout())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "user"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Username はログインIDとして使用するユーザー名。
	Username string `json:"username" binding:"required"`
	// Password は平文パスワード。保存前にbcryptでハッシュ化する。
	Password string `json:"password" binding:"required"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
	// Phone は電話番号。
	Phone string `json:"phone"`
	// Role は付与するロール。省略時はUSER。
	Role string `json:"role"`
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// パスワードをbcryptでハッシュ化して保存する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username、password、emailは必須です"})
			return
		}
		if req.Role == "" {
			req.Role = "USER"
		}

		var count int
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT COUNT(*) FROM users WHERE username = ? OR email = ?",
			req.Username, req.Email).Scan(&count)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			log.Printf("重複チェックエラー: username=%s, error=%v", req.Username, err)
			return
		}
		if count > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "ユーザー名またはメールアドレスは既に登録されています"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			log.Printf("パスワードハッシュ化エラー: username=%s, error=%v", req.Username, err)
			return
		}

		userID := uuid.New().String()
		_, err = s.db.ExecContext(c.Request.Context(),
			"INSERT INTO users (user_id, username, password_hash, email, phone, role) VALUES (?, ?, ?, ?, ?, ?)",
			userID, req.Username, string(hash), req.Email, req.Phone, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			log.Printf("ユーザー登録エラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"userId": userID, "username": req.Username})
	}
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password は平文パスワード。
	Password string `json:"password" binding:"required"`
}

// handleLogin はログインを処理するハンドラを返す。
// パスワードを照合し、認証サービスにトークン発行を委譲する。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameとpasswordは必須です"})
			return
		}

		var passwordHash, role string
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT password_hash, role FROM users WHERE username = ?",
			req.Username).Scan(&passwordHash, &role)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
			log.Printf("ユーザー照会エラー: username=%s, error=%v", req.Username, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "パスワードが一致しません"})
			return
		}

		accessToken, err := s.authClient.PostText(c.Request.Context(), "/api/auth/login", map[string]string{
			"username": req.Username,
			"role":     role,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("トークン発行エラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.String(http.StatusOK, accessToken)
	}
}

// logoutRequest はログアウトリクエストのJSON構造。
type logoutRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
}

// handleLogout はログアウトを処理するハンドラを返す。
// 認証サービスにトークンの失効を委譲する。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req logoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "usernameは必須です"})
			return
		}

		var role string
		err := s.db.QueryRowContext(c.Request.Context(),
			"SELECT role FROM users WHERE username = ?",
			req.Username).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			log.Printf("ユーザー照会エラー: username=%s, error=%v", req.Username, err)
			return
		}

		if err := s.authClient.DeleteJSON(c.Request.Context(), "/api/auth/logout", map[string]string{
			"username": req.Username,
			"role":     role,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			log.Printf("トークン失効エラー: username=%s, error=%v", req.Username, err)
			return
		}

		c.Status(http.StatusOK)
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
