package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/cli"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/logger"
)

var version = "dev"

func main() {
	level := os.Getenv("HRCTL_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	slog.SetDefault(logger.New(os.Stderr, "hrctl", "development", level))

	root := cli.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Describe(err))
		os.Exit(1)
	}
}
