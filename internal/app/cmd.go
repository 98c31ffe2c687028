package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandMigrateStatus は適用済みスキーマバージョンを報告する。最新でなければ失敗する。
	CommandMigrateStatus Command = "migrate-status"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{
	CommandServe,
	CommandWorker,
	CommandMigrate,
	CommandMigrateStatus,
	CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。
// サポート外のコマンドはタイプミスでサーバーが起動しないようエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	for _, c := range knownCommands {
		if args[0] == string(c) {
			return c, nil
		}
	}

	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], strings.Join(names, ", "))
}
