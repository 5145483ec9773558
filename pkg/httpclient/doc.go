// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// ゲートウェイから認証サービスへの検証・再発行呼び出し、
// ユーザーサービスから認証サービスへのトークン発行依頼など、
// サービス間の通信パターンを統一する。すべての呼び出しに有限の
// タイムアウトが適用され、リクエストが無期限に待たされることはない。
package httpclient
