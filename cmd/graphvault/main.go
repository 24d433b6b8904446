package main

import (
	"os"

	"github.com/graphvault/graphvault/internal/cli"
)

func main() {
	cli.InitRoot()
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
