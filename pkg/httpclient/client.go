package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout はHTTPリクエストのデフォルトタイムアウト。
// 認証経路の呼び出しはリクエストを無期限に待たせてはならない。
const defaultTimeout = 5 * time.Second

// StatusError は2xx以外のステータスコードを受け取った場合のエラー。
// 呼び出し側はStatusCodeで分岐できる（例: /roleの404、/reIssueの401）。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body string
}

// Error はerrorインターフェースの実装。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// Client はサービス間通信用のHTTPクライアント。
// すべてのリクエストに有限のタイムアウトを適用する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithTimeout はリクエスト全体のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://auth:19092"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return decodeJSON(respBody, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decodeJSON(respBody, result)
}

// DeleteJSON は指定パスにJSONボディでDELETEリクエストを送信する。
func (c *Client) DeleteJSON(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodDelete, path, body)
	return err
}

// PostText は指定パスにJSONボディでPOSTリクエストを送信し、
// レスポンスボディをテキストのまま返す。トークン文字列を
// 返すエンドポイント（/login, /reIssue）向け。
func (c *Client) PostText(ctx context.Context, path string, body any) (string, error) {
	respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(respBody)), nil
}

// do はHTTPリクエストを実行しレスポンスボディを返す共通処理。
// 2xx以外のステータスコードは*StatusErrorとして返す。
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// コンテキストからユーザーIDを伝播する
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// decodeJSON はレスポンスボディをresultにデシリアライズする。
func decodeJSON(body []byte, result any) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyUserID はコンテキストにユーザーIDを格納するためのキー。
const contextKeyUserID contextKey = "user_id"

// WithUserID はコンテキストにユーザーIDを設定する。
// サービス間通信時にユーザーIDを伝播するために使用する。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}
