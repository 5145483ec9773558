package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound はキーが存在しない（または期限切れで消えた）場合のエラー。
var ErrNotFound = errors.New("キーが存在しません")

// Store はトークンレコードとカウンターを保持するキーバリューストア。
// 全操作は複数プロセスからの任意の並行呼び出しに対して安全であること。
type Store interface {
	// Put は値をTTL付きで保存する。既存の値は上書きされる。
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Get はキーに対応する値を返す。存在しない場合はErrNotFound。
	Get(ctx context.Context, key string) (string, error)
	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
	// Increment はカウンターを1増やし、増加後の値を返す。
	// キーが存在しない場合は0から開始する。
	Increment(ctx context.Context, key string) (int64, error)
	// IncrementWithTTL はカウンターを1増やし、このインクリメントで
	// キーが新規作成された場合のみTTLを設定する。増加とTTL設定は
	// 単一の原子的操作であり、ウィンドウが必ず満了することを保証する。
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// ExpireIfNoTTL はキーにTTLが未設定の場合のみTTLを設定する。
	ExpireIfNoTTL(ctx context.Context, key string, ttl time.Duration) error
	// Close はストアへの接続を閉じる。
	Close() error
}

// Record はストアに保存されるトークンメタデータ。
// roleは署名済みトークン側から再導出されるため保存しない。
type Record struct {
	// Subject はトークン所有者の識別子。
	Subject string `json:"subject"`
	// Category はトークン種別（ACCESS / REFRESH）。
	Category string `json:"category"`
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time `json:"expiresAt"`
}

// EncodeRecord はレコードをストア保存用のJSON文字列に変換する。
func EncodeRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("トークンレコードのシリアライズに失敗: %w", err)
	}
	return string(b), nil
}

// DecodeRecord はストアから取得したJSON文字列をレコードに変換する。
func DecodeRecord(value string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return Record{}, fmt.Errorf("トークンレコードのデシリアライズに失敗: %w", err)
	}
	return r, nil
}

// TokenKey はセッショントークンの保存キーを導出する。
// 種別とsubjectはいずれも小文字に正規化される。
func TokenKey(category, subject string) string {
	return fmt.Sprintf("token:%s:%s", strings.ToLower(category), strings.ToLower(subject))
}

// RateLimitKey はレート制限カウンターの保存キーを導出する。
func RateLimitKey(clientID string) string {
	return "rate_limit:" + clientID
}
