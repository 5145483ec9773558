// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、CORS設定など、全サービスで共通して
// 使用するミドルウェアを含む。
package middleware
