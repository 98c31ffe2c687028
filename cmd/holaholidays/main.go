// Command holaholidays は顧客・管理者の認証APIサーバーを起動する。
//
// 使い方:
//
//	holaholidays [serve|worker|migrate|migrate-status|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/holaholidays/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
