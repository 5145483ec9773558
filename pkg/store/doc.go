// Package store はトークンとレート制限カウンターを保持する
// キーバリューストアの抽象を提供する。
//
// 本番ではRedis実装を使用し、複数のゲートウェイ/認証サービスインスタンス
// から共有される。テストや単一ノード構成ではプロセス内メモリ実装が
// 同じインターフェースで代替する。全操作はcontext.Contextを受け取り、
// 任意の並行呼び出しに対して安全である。
//
// キー名前空間:
//
//	token:<category小文字>:<subject小文字>  セッショントークンのレコード
//	rate_limit:<クライアントID>             レート制限カウンター
package store
