package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/authgate/pkg/store"
	"github.com/nao1215/authgate/pkg/token"
)

// ErrRefreshTokenInvalid はリフレッシュトークンが存在しない、
// または期限切れの場合のエラー。再発行は拒否される。
var ErrRefreshTokenInvalid = errors.New("リフレッシュトークンが無効または存在しません")

// TokenService はトークンペア（アクセス+リフレッシュ）の発行・検証・
// 再発行・失効を担う。subject×種別ごとに単一のストアスロットを持ち、
// 発行のたびに既存スロットを上書きする（1セッション/種別）。
type TokenService struct {
	// codec はトークンの符号化器。
	codec *token.Codec
	// store はトークンレコードを保持する共有ストア。
	store store.Store
	// accessTTL はアクセストークンの有効期間。
	accessTTL time.Duration
	// refreshTTL はリフレッシュトークンの有効期間。
	refreshTTL time.Duration
}

// NewTokenService は新しいTokenServiceを生成する。
func NewTokenService(codec *token.Codec, s store.Store, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		codec:      codec,
		store:      s,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// ttl は種別ごとの有効期間を返す。
func (s *TokenService) ttl(category string) time.Duration {
	if category == token.CategoryRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// issue は指定種別のトークンを1本発行し、レコードをストアに保存する。
// 同じsubject×種別の既存レコードは上書きされる。
func (s *TokenService) issue(ctx context.Context, category, subject, role string) (string, error) {
	ttl := s.ttl(category)
	tok, err := s.codec.Encode(subject, role, category, ttl)
	if err != nil {
		return "", fmt.Errorf("トークンの発行に失敗: %w", err)
	}

	value, err := store.EncodeRecord(store.Record{
		Subject:   subject,
		Category:  category,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, store.TokenKey(category, subject), value, ttl); err != nil {
		return "", fmt.Errorf("トークンレコードの保存に失敗: %w", err)
	}
	return tok, nil
}

// Login はアクセストークンとリフレッシュトークンのペアを発行し、
// 両方のレコードをストアに保存する。呼び出し側にはアクセストークン
// のみを返す。
func (s *TokenService) Login(ctx context.Context, subject, role string) (string, error) {
	accessToken, err := s.issue(ctx, token.CategoryAccess, subject, role)
	if err != nil {
		return "", err
	}
	if _, err := s.issue(ctx, token.CategoryRefresh, subject, role); err != nil {
		return "", err
	}
	return accessToken, nil
}

// Validate はトークンの署名と有効期限を検証する。
// ストアは参照しない（署名付きトークンのみで完結するステートレス検証）。
// 形式不正・署名不正・期限切れのいずれでもfalseを返す（フェイルクローズ）。
func (s *TokenService) Validate(tokenStr string) bool {
	if stripped, found := token.StripBearer(tokenStr); found {
		tokenStr = stripped
	}
	_, err := s.codec.Decode(tokenStr)
	return err == nil
}

// Reissue はリフレッシュトークンが有効な場合に新しいアクセストークンを
// 発行する。リプレイ窓を減らすため、リフレッシュトークンも毎回
// ローテーションする。リフレッシュトークンのレコードが存在しない、
// または期限切れの場合はErrRefreshTokenInvalidを返す。
func (s *TokenService) Reissue(ctx context.Context, subject, role string) (string, error) {
	value, err := s.store.Get(ctx, store.TokenKey(token.CategoryRefresh, subject))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
	}

	rec, err := store.DecodeRecord(value)
	if err != nil {
		return "", err
	}
	if time.Now().After(rec.ExpiresAt) {
		return "", ErrRefreshTokenInvalid
	}

	// ローテーション: リフレッシュトークンを先に差し替えてから
	// 新しいアクセストークンを発行する
	if _, err := s.issue(ctx, token.CategoryRefresh, subject, role); err != nil {
		return "", err
	}
	return s.issue(ctx, token.CategoryAccess, subject, role)
}

// Logout はsubjectのアクセス・リフレッシュ両方のレコードを削除する。
// キーはsubjectから直接導出する。トークンを新規生成してキーを
// 導出すると別世代のトークンを対象にしてしまうため行わない。
// 存在しないレコードの削除もエラーにならない（冪等）。
func (s *TokenService) Logout(ctx context.Context, subject string) error {
	if err := s.store.Delete(ctx, store.TokenKey(token.CategoryAccess, subject)); err != nil {
		return fmt.Errorf("アクセストークンの削除に失敗: %w", err)
	}
	if err := s.store.Delete(ctx, store.TokenKey(token.CategoryRefresh, subject)); err != nil {
		return fmt.Errorf("リフレッシュトークンの削除に失敗: %w", err)
	}
	return nil
}

// TokenRecord は指定subject×種別のストアレコードを返す。
// 診断用の読み取り専用アクセサ。存在しない場合はstore.ErrNotFound。
func (s *TokenService) TokenRecord(ctx context.Context, category, subject string) (store.Record, error) {
	value, err := s.store.Get(ctx, store.TokenKey(category, subject))
	if err != nil {
		return store.Record{}, err
	}
	return store.DecodeRecord(value)
}
