// Package user はユーザー管理サービスを提供する。
//
// ユーザー登録・ログイン・ログアウトのHTTPエンドポイントを公開する。
// パスワードはbcryptでハッシュ化してSQLiteに保存し、トークンの
// 発行と失効は認証サービスにHTTP経由で委譲する。
package user
