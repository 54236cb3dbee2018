package main

import (
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
	"github.com/e2b-dev/infra/packages/blockproxy/ioc"
	"github.com/e2b-dev/infra/packages/blockproxy/pkg/logger"
)

func main() {
	config, err := cfg.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	l, err := logger.NewLogger(logger.LoggerConfig{
		ServiceName: config.ServiceName,
		IsDebug:     config.Debug,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer l.Sync() //nolint:errcheck // stdout sync fails on some terminals

	zap.ReplaceGlobals(l)

	app := ioc.New(config, l)
	if err := app.Err(); err != nil {
		l.Error("failed to build application", zap.Error(err))
		os.Exit(1)
	}

	app.Run()
}
