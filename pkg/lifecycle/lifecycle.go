// Package lifecycle はサービスの起動からグレースフルシャットダウンまでを管理する。
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout は処理中のリクエストを待つ既定の時間。
const DefaultShutdownTimeout = 10 * time.Second

// Server はRunで待ち受け、Shutdownで停止するサーバー。
type Server interface {
	Run() error
	Shutdown(ctx context.Context) error
}

// Serve はサーバーを起動し、ctxが終了したらtimeout以内に停止する。
// Runが先にエラーで戻った場合はそのエラーを返す。
func Serve(ctx context.Context, srv Server, logger *zap.Logger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("サーバーが異常終了: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("シャットダウンを開始します", zap.Duration("timeout", timeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("サーバーが異常終了: %w", err)
	}
	logger.Info("シャットダウンが完了しました")
	return nil
}
