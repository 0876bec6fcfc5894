package main

import (
	"skillswap/internal/config"
	"skillswap/internal/db"
	clog "skillswap/internal/log"
	"skillswap/internal/server"
	"skillswap/internal/storage"
	"skillswap/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	store := storage.New(gdb)
	registry := ws.NewRegistry()
	relay := ws.NewRelay(store, registry)

	monitor := ws.NewMonitor(registry, ws.HeartbeatInterval)
	go monitor.Run()
	defer monitor.Stop()

	r := server.SetupRouter(cfg, gdb, store, relay)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
