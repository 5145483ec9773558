// ユーザー管理サービスのエントリポイント。
// ユーザー登録とパスワード認証を担当し、トークンの発行・失効は
// 認証サービスに委譲する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/authgate/internal/user"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "19091"
	}

	server, err := user.NewServer(port)
	if err != nil {
		log.Fatalf("ユーザー管理サーバーの初期化に失敗: %v", err)
	}

	log.Printf("ユーザー管理サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("ユーザー管理サービスの起動に失敗: %v", err)
	}
}
