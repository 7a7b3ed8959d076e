package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/faction-ambush/internal/cli"
)

// version is injected at build time:
//
//	go build -ldflags "-X main.version=1.2.0" ./cmd/ambushd
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "dev" {
		rootCmd.Version = version
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
