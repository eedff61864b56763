// Package main утилита администратора для работы с хранилищем бота.
package main

import (
	"fmt"
	"os"

	"github.com/magabrotheeeer/terabox-bot/cmd/botctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
