package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hoyzach/dexcore/params"
	"github.com/hoyzach/dexcore/pkg/api"
	"github.com/hoyzach/dexcore/pkg/core"
	"github.com/hoyzach/dexcore/pkg/core/store"
	"github.com/hoyzach/dexcore/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	var ex *core.Exchange
	if cfg.Node.DBPath != "" {
		st, err := store.Open(cfg.Node.DBPath)
		if err != nil {
			sugar.Fatalw("open_store_failed", "path", cfg.Node.DBPath, "err", err)
		}
		ex, err = core.NewWithStore(cfg.Exchange.AdminAddress, cfg.Exchange.QuoteTicker, logger, st)
		if err != nil {
			sugar.Fatalw("restore_exchange_failed", "err", err)
		}
	} else {
		ex = core.New(cfg.Exchange.AdminAddress, cfg.Exchange.QuoteTicker, logger)
	}
	defer ex.Close()

	sugar.Infow("exchange_started",
		"quote", cfg.Exchange.QuoteTicker,
		"admin", cfg.Exchange.AdminAddress.Hex(),
		"db", cfg.Node.DBPath)

	server := api.NewServer(ex, logger)
	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("shutting_down")
}
