// API Gatewayサービスのエントリポイント。
// Bearerトークンを検証し、ルート表に従って認証・タスク・通知サービスへリクエストを転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/taskplatform/internal/gateway"
	"github.com/nao1215/taskplatform/pkg/config"
	"github.com/nao1215/taskplatform/pkg/lifecycle"
	"github.com/nao1215/taskplatform/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadDotEnv()
	cfg, err := config.LoadGateway()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log, err := logger.New("gateway", cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	server, err := gateway.NewServer(cfg, log)
	if err != nil {
		log.Error("Gatewayサービスの初期化に失敗", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Gatewayサービスを起動します", zap.String("port", cfg.Port), zap.Bool("tls", cfg.TLSEnabled()))
	if err := lifecycle.Serve(ctx, server, log, lifecycle.DefaultShutdownTimeout); err != nil {
		log.Error("Gatewayサービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
