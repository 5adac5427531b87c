package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/config"
	"github.com/nao1215/taskplatform/pkg/httpclient"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"github.com/nao1215/taskplatform/pkg/middleware"
	"github.com/nao1215/taskplatform/pkg/token"
	"go.uber.org/zap"
)

// serviceName はログとメトリクスに使うサービス名。
const serviceName = "gateway"

// version はルートエンドポイントで返すバージョン。
const version = "1.0.0"

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// cfg は起動時に読み込んだ設定。
	cfg *config.Gateway
	// logger は構造化ロガー。
	logger *zap.Logger
	// codec はBearerトークンの検証に使う。
	codec *token.Codec
	// registry は転送先サービスの表。
	registry *Registry
	// routes は読み込み済みのルート表。
	routes []Route
	// forwarder はバックエンド呼び出しに使う共有クライアント。
	forwarder *httpclient.Forwarder
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しいGatewayサーバーを生成する。
// ルート表の全サービスがレジストリに存在することを起動時に確認する。
func NewServer(cfg *config.Gateway, logger *zap.Logger) (*Server, error) {
	codec, err := token.NewCodec(cfg.JWTSecretKey)
	if err != nil {
		return nil, fmt.Errorf("トークンコーデックの初期化に失敗: %w", err)
	}

	registry, err := RegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("バックエンド設定が不正: %w", err)
	}

	routes, err := LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}

	var retry httpclient.RetryPolicy = httpclient.NoRetry{}
	if cfg.BackendMaxRetries > 0 {
		retry = httpclient.Backoff{
			MaxRetries: cfg.BackendMaxRetries,
			BaseDelay:  cfg.BackendRetryBackoff,
			MaxDelay:   cfg.BackendTimeout,
		}
	}

	s := &Server{
		router:   gin.New(),
		cfg:      cfg,
		logger:   logger,
		codec:    codec,
		registry: registry,
		routes:   routes,
		forwarder: httpclient.NewForwarder(
			httpclient.WithTimeout(cfg.BackendTimeout),
			httpclient.WithRetryPolicy(retry),
		),
		metrics: metrics.New(serviceName),
	}

	// 末尾スラッシュ違いはリダイレクトせず404にする。
	s.router.RedirectTrailingSlash = false
	s.router.RedirectFixedPath = false

	s.router.Use(middleware.AccessLog(logger))
	s.router.Use(middleware.Recovery(logger))
	s.router.Use(s.metrics.Middleware())
	s.router.Use(middleware.CORS(cfg.AllowedOrigins()))
	if cfg.RateLimitRPS > 0 {
		s.router.Use(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Handler())
	}

	if err := s.setupRoutes(); err != nil {
		s.forwarder.Close()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("開発用のJWTシークレットで起動しています。JWT_SECRET_KEYを設定してください")
	}
	return s, nil
}

// setupRoutes はローカルのエンドポイントとルート表のプロキシを登録する。
func (s *Server) setupRoutes() error {
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/", s.handleRoot())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	for _, route := range s.routes {
		backend, err := s.registry.Resolve(route.Service)
		if err != nil {
			return fmt.Errorf("ルート %s %s: %w", route.Method, route.Path, err)
		}
		if err := s.register(route, backend); err != nil {
			return err
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		abort(c, KindRouteNotFound, "Not Found", nil)
	})
	return nil
}

// register はルート1件を登録する。ginはパターンの衝突でpanicするためエラーに変換する。
func (s *Server) register(route Route, backend Backend) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ルート %s %s の登録に失敗: %v", route.Method, route.Path, r)
		}
	}()
	s.router.Handle(route.Method, route.Path, s.handleRoute(route, backend))
	return nil
}

// handleHealth はゲートウェイの状態と転送先アドレスを返すハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  serviceName,
			"backends": s.registry.Addresses(),
		})
	}
}

// handleRoot はサービスの説明を返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "API Gateway - Task Platform",
			"version": version,
			"endpoints": gin.H{
				"auth":          "/api/auth/*",
				"tasks":         "/api/tasks/*",
				"notifications": "/api/notifications/*",
			},
		})
	}
}

// Handler はテストなどで直接使うためのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。Shutdownが呼ばれるまで戻らない。
// TLS_CERT_FILEとTLS_KEY_FILEが設定されていればTLSで待ち受ける。
func (s *Server) Run() error {
	var err error
	if s.cfg.TLSEnabled() {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown は処理中のリクエストを待ってからサーバーを停止し、接続プールを解放する。
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.forwarder.Close()
	return s.httpServer.Shutdown(ctx)
}
