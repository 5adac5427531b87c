package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer はShutdownが呼ばれるまでRunをブロックするテスト用サーバー。
type fakeServer struct {
	runErr      error
	shutdownErr error
	stopped     chan struct{}
	shutdownHit chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{stopped: make(chan struct{}), shutdownHit: make(chan struct{}, 1)}
}

func (f *fakeServer) Run() error {
	if f.runErr != nil {
		return f.runErr
	}
	<-f.stopped
	return nil
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdownHit <- struct{}{}
	close(f.stopped)
	return f.shutdownErr
}

// TestServe はServe関数を検証する。
func TestServe(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストが終了するとShutdownが呼ばれること", func(t *testing.T) {
		t.Parallel()
		srv := newFakeServer()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		if err := Serve(ctx, srv, zap.NewNop(), time.Second); err != nil {
			t.Fatalf("Serve()でエラーが発生: %v", err)
		}
		select {
		case <-srv.shutdownHit:
		default:
			t.Error("Shutdownが呼ばれていない")
		}
	})

	t.Run("Runが失敗した場合はそのエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		srv := newFakeServer()
		srv.runErr = errors.New("address already in use")

		err := Serve(t.Context(), srv, zap.NewNop(), time.Second)
		if !errors.Is(err, srv.runErr) {
			t.Errorf("Serve() error = %v, want %v", err, srv.runErr)
		}
	})

	t.Run("Shutdownの失敗を返すこと", func(t *testing.T) {
		t.Parallel()
		srv := newFakeServer()
		srv.shutdownErr = context.DeadlineExceeded
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		if err := Serve(ctx, srv, zap.NewNop(), 0); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Serve() error = %v, want DeadlineExceeded", err)
		}
	})
}
