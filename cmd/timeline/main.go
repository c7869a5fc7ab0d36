package main

import (
	"log/slog"
	"os"

	"github.com/astromechza/timeline/pkg/cli"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	return cli.NewRootCmd().Execute()
}
