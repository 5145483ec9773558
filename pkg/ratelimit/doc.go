// Package ratelimit はクライアント単位の固定ウィンドウ型レート制限を提供する。
//
// カウンターは共有ストア（pkg/store）に保持されるため、複数の
// ゲートウェイインスタンス間で単一の上限が適用される。カウンターの
// 増加とウィンドウTTLの設定はストア側の単一の原子的操作で行われる。
package ratelimit
