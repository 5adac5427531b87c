// タスクサービスのエントリポイント。
// タスクのCRUDを提供し、担当者の割り当て時に通知サービスへ通知する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/taskplatform/internal/task"
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
	cfg, err := config.LoadTask()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log, err := logger.New("task", cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	server, err := task.NewServer(cfg, log)
	if err != nil {
		log.Error("タスクサービスの初期化に失敗", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("タスクサービスを起動します", zap.String("port", cfg.Port), zap.String("trust_mode", cfg.TrustMode))
	if err := lifecycle.Serve(ctx, server, log, lifecycle.DefaultShutdownTimeout); err != nil {
		log.Error("タスクサービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
