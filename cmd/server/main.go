package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"aichatroom/internal/config"
	"aichatroom/internal/db"
	"aichatroom/internal/llm"
	clog "aichatroom/internal/log"
	"aichatroom/internal/realtime"
	"aichatroom/internal/server"
	"aichatroom/internal/service"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	defer hub.Close()

	var pub realtime.Publisher = realtime.NewLocalPublisher(hub)
	if cfg.RedisURL != "" {
		rdb, err := realtime.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer rdb.Close()
		rp := realtime.NewRedisPublisher(rdb, hub, "")
		go func() {
			if err := rp.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis fan-out stopped")
			}
		}()
		pub = rp
		log.Info().Msg("change feed fan-out via redis")
	}

	ai := llm.New(cfg.AI)
	if !ai.Configured() {
		log.Warn().Msg("AI_API_KEY not set, AI endpoints will return errors")
	}

	msgs := service.NewMessageService(gdb, pub)
	typing := service.NewTypingService(gdb, pub)
	h := server.NewHandler(server.Services{
		Users:    service.NewUserService(gdb, cfg, pub),
		Messages: msgs,
		Typing:   typing,
		Profiles: service.NewProfileService(gdb, pub),
		AI:       service.NewAIService(ai, msgs),
	}, hub)

	lim := server.NewLimiters()
	go lim.IP.Run(time.Minute)
	go lim.Typing.Run(time.Minute)
	defer lim.IP.Stop()
	defer lim.Typing.Stop()

	// 客户端断线时不会清理自己的输入状态，服务端同样定期回收。
	go func() {
		ticker := time.NewTicker(service.TypingSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := typing.Sweep(ctx, service.TypingFreshness); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("typing sweep")
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, h, lim),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
