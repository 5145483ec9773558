package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerPrefix はトークン文字列に付与するスキームマーカー。
// デコード前に呼び出し側が取り除く必要がある。
const BearerPrefix = "Bearer "

// トークン種別。種別ごとにTTLと保存キーが異なる。
const (
	// CategoryAccess はアクセストークン（短命）。
	CategoryAccess = "ACCESS"
	// CategoryRefresh はリフレッシュトークン（長命）。
	CategoryRefresh = "REFRESH"
)

// デコード時のエラー種別。errors.Isで判別する。
var (
	// ErrMalformed はトークンの構造（セグメント数等）が不正な場合のエラー。
	ErrMalformed = errors.New("トークンの形式が不正")
	// ErrInvalidSignature は署名検証に失敗した場合のエラー。
	ErrInvalidSignature = errors.New("トークンの署名が不正")
	// ErrExpired はトークンの有効期限が切れている場合のエラー。
	// 署名が正しい期限切れトークンはクレームとともに返されるため、
	// 呼び出し側はリフレッシュトークンによる再発行を試みることができる。
	ErrExpired = errors.New("トークンの有効期限切れ")
)

// Claims はトークンに埋め込まれる署名対象のクレーム集合。
type Claims struct {
	jwt.RegisteredClaims
	// Category はトークン種別（ACCESS / REFRESH）。
	Category string `json:"category"`
	// Role は発行時にsubjectへ付与されたロール名。
	Role string `json:"role"`
}

// Codec はプロセス全体で共有する秘密鍵によるトークンの符号化器。
type Codec struct {
	// secret はHMAC署名用の秘密鍵。
	secret []byte
}

// NewCodec は指定された秘密鍵を使用するCodecを生成する。
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode はクレームを署名付きトークン文字列にエンコードする。
// 返り値は "Bearer " マーカー付きの完全なトークン文字列。
func (c *Codec) Encode(subject, role, category string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Category: category,
		Role:     role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return BearerPrefix + signed, nil
}

// Decode はトークン文字列（マーカー除去済み）を検証しクレームを返す。
// 形式不正はErrMalformed、署名不正はErrInvalidSignatureを返す。
// 署名が正しく期限のみ切れている場合はクレームとErrExpiredの両方を返す。
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	// 有効期限はWithoutClaimsValidationで検証を外しているため手動で確認する。
	// 期限切れでもクレームは返す。
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: 有効期限クレームがありません", ErrMalformed)
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return claims, fmt.Errorf("%w: expiresAt=%s", ErrExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return claims, nil
}

// PeekClaims は署名検証を行わずにクレームのみを読み出す。
// 診断やログ出力の用途に限る。読み出した内容は検証されていないため、
// 認証・認可の判断には使用してはならない。
func PeekClaims(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// StripBearer はAuthorizationヘッダー値から "Bearer " マーカーを取り除く。
// マーカーが無い場合はfalseを返す（呼び出し側のエラーとして扱う）。
func StripBearer(header string) (string, bool) {
	return strings.CutPrefix(header, BearerPrefix)
}
