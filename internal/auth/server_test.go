package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/pkg/store"
	"github.com/nao1215/authgate/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer はテスト用の認証サーバーを生成する。
// インメモリSQLiteとメモリストアを使用する。
func newTestServer(t *testing.T) *Server {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	m := store.NewMemory()
	router := gin.New()
	s := &Server{
		router: router,
		port:   "0",
		tokens: NewTokenService(token.NewCodec(testSecret), m, 30*time.Minute, 24*time.Hour),
		rbac:   NewRBAC(sqlDB),
		db:     sqlDB,
		store:  m,
	}
	s.setupRoutes()

	return s
}

// doJSON はJSONボディ付きのテストリクエストを実行する。
func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// TestHandleLogin はログインエンドポイントを検証する。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("正常にアクセストークンが発行されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"alice","role":"USER"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		accessToken := w.Body.String()
		if !strings.HasPrefix(accessToken, token.BearerPrefix) {
			t.Errorf("トークンにBearerマーカーが無い: %q", accessToken)
		}
		if !s.tokens.Validate(accessToken) {
			t.Error("発行されたトークンの検証に失敗")
		}
	})

	t.Run("usernameが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"role":"USER"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("roleが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"alice"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleVerify は検証エンドポイントを検証する。
func TestHandleVerify(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでtrueが返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		loginW := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"bob","role":"USER"}`)
		if loginW.Code != http.StatusOK {
			t.Fatalf("ログインに失敗: %d", loginW.Code)
		}
		accessToken := loginW.Body.String()

		w := doJSON(t, s, http.MethodGet, "/api/auth/verify?accessToken="+url.QueryEscape(accessToken), "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if strings.TrimSpace(w.Body.String()) != "true" {
			t.Errorf("レスポンス = %q, want true", w.Body.String())
		}
	})

	t.Run("不正なトークンでfalseが返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodGet, "/api/auth/verify?accessToken=garbage", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if strings.TrimSpace(w.Body.String()) != "false" {
			t.Errorf("レスポンス = %q, want false", w.Body.String())
		}
	})

	t.Run("accessTokenパラメータが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodGet, "/api/auth/verify", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleReissue は再発行エンドポイントを検証する。
func TestHandleReissue(t *testing.T) {
	t.Parallel()

	t.Run("ログイン済みsubjectに新しいアクセストークンが発行されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		loginW := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"carol","role":"ADMIN"}`)
		if loginW.Code != http.StatusOK {
			t.Fatalf("ログインに失敗: %d", loginW.Code)
		}

		w := doJSON(t, s, http.MethodPost, "/api/auth/reIssue", `{"username":"carol","role":"ADMIN"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if !s.tokens.Validate(w.Body.String()) {
			t.Error("再発行されたトークンの検証に失敗")
		}
	})

	t.Run("未ログインのsubjectには401が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/reIssue", `{"username":"nobody","role":"USER"}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("必須フィールドが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/reIssue", `{"username":"carol"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleLogout はログアウトエンドポイントを検証する。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	t.Run("ログアウトで両方のトークンレコードが削除されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		loginW := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"dave","role":"USER"}`)
		if loginW.Code != http.StatusOK {
			t.Fatalf("ログインに失敗: %d", loginW.Code)
		}

		w := doJSON(t, s, http.MethodDelete, "/api/auth/logout", `{"username":"dave","role":"USER"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		for _, category := range []string{"ACCESS", "REFRESH"} {
			recW := doJSON(t, s, http.MethodGet, "/api/auth/token?category="+category+"&username=dave", "")
			if recW.Code != http.StatusNotFound {
				t.Errorf("ログアウト後のレコード照会(%s) = %d, want %d", category, recW.Code, http.StatusNotFound)
			}
		}
	})

	t.Run("2回連続のログアウトでも200が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"eve","role":"USER"}`)

		for i := 0; i < 2; i++ {
			w := doJSON(t, s, http.MethodDelete, "/api/auth/logout", `{"username":"eve","role":"USER"}`)
			if w.Code != http.StatusOK {
				t.Errorf("%d回目のログアウト = %d, want %d", i+1, w.Code, http.StatusOK)
			}
		}
	})
}

// TestHandleRoles は許可ロール照会エンドポイントを検証する。
func TestHandleRoles(t *testing.T) {
	t.Parallel()

	t.Run("登録済み経路の許可ロールが返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		if err := s.rbac.RegisterAPI(context.Background(), "/api/orders", "ADMIN", "USER"); err != nil {
			t.Fatalf("RegisterAPI()でエラーが発生: %v", err)
		}

		w := doJSON(t, s, http.MethodGet, "/api/auth/role?apiPath="+url.QueryEscape("/api/orders"), "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var roles []string
		if err := json.Unmarshal(w.Body.Bytes(), &roles); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(roles) != 2 || roles[0] != "ADMIN" || roles[1] != "USER" {
			t.Errorf("roles = %v, want [ADMIN USER]", roles)
		}
	})

	t.Run("未登録の経路は404が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodGet, "/api/auth/role?apiPath="+url.QueryEscape("/api/unknown"), "")
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("apiPathパラメータが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodGet, "/api/auth/role", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleRegisterRoles はロールバインディング登録エンドポイントを検証する。
func TestHandleRegisterRoles(t *testing.T) {
	t.Parallel()

	t.Run("HTTP経由で登録したバインディングが照会できること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/role", `{"apiPath":"/api/orders","roles":["ADMIN","USER"]}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		w = doJSON(t, s, http.MethodGet, "/api/auth/role?apiPath="+url.QueryEscape("/api/orders"), "")
		if w.Code != http.StatusOK {
			t.Fatalf("登録した経路の照会に失敗: status=%d", w.Code)
		}
		var roles []string
		if err := json.Unmarshal(w.Body.Bytes(), &roles); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(roles) != 2 || roles[0] != "ADMIN" || roles[1] != "USER" {
			t.Errorf("roles = %v, want [ADMIN USER]", roles)
		}
	})

	t.Run("同じバインディングを再登録しても201が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		for i := 0; i < 2; i++ {
			w := doJSON(t, s, http.MethodPost, "/api/auth/role", `{"apiPath":"/api/orders","roles":["USER"]}`)
			if w.Code != http.StatusCreated {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, w.Code, http.StatusCreated)
			}
		}
	})

	t.Run("必須フィールドが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodPost, "/api/auth/role", `{"apiPath":"/api/orders"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleTokenRecord は診断用レコード照会エンドポイントを検証する。
func TestHandleTokenRecord(t *testing.T) {
	t.Parallel()

	t.Run("ログイン済みsubjectのレコードが返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		loginW := doJSON(t, s, http.MethodPost, "/api/auth/login", `{"username":"frank","role":"USER"}`)
		if loginW.Code != http.StatusOK {
			t.Fatalf("ログインに失敗: %d", loginW.Code)
		}

		w := doJSON(t, s, http.MethodGet, "/api/auth/token?category=ACCESS&username=frank", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if body["subject"] != "frank" {
			t.Errorf("subject = %q, want %q", body["subject"], "frank")
		}
		if body["category"] != "ACCESS" {
			t.Errorf("category = %q, want %q", body["category"], "ACCESS")
		}
	})

	t.Run("パラメータが不足している場合400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t)
		w := doJSON(t, s, http.MethodGet, "/api/auth/token?category=ACCESS", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
