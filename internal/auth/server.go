package auth

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/nao1215/taskplatform/pkg/config"
	"github.com/nao1215/taskplatform/pkg/database"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"github.com/nao1215/taskplatform/pkg/middleware"
	"github.com/nao1215/taskplatform/pkg/migration"
	"github.com/nao1215/taskplatform/pkg/token"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// serviceName はログとメトリクスに使うサービス名。
const serviceName = "auth"

//go:embed migrations
var migrationFS embed.FS

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// db はデータベース接続。
	db *sqlx.DB
	// store はユーザーの永続化を行う。
	store *Store
	// codec はアクセストークンの発行に使う。
	codec *token.Codec
	// bcryptCost はパスワードハッシュのコスト。
	bcryptCost int
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しい認証サーバーを生成する。
// データベースへの接続とマイグレーションの適用を行う。
func NewServer(cfg *config.Auth, logger *zap.Logger) (*Server, error) {
	codec, err := token.NewCodec(cfg.JWTSecretKey, token.WithDefaultTTL(cfg.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("トークンコーデックの初期化に失敗: %w", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := migration.Run(db, migrationFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	s := newServer(db, codec, logger)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// newServer はマイグレーション済みのDBからサーバーを組み立てる。
func newServer(db *sqlx.DB, codec *token.Codec, logger *zap.Logger) *Server {
	s := &Server{
		router:     gin.New(),
		db:         db,
		store:      NewStore(db),
		codec:      codec,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger,
		metrics:    metrics.New(serviceName),
	}
	s.router.Use(middleware.AccessLog(logger))
	s.router.Use(middleware.Recovery(logger))
	s.router.Use(s.metrics.Middleware())
	s.setupRoutes()
	return s
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	authGroup := s.router.Group("/auth")
	{
		// ユーザー登録
		authGroup.POST("/register", s.handleRegister())
		// ログイン
		authGroup.POST("/login", s.handleLogin())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Auth Service is running"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Not Found", nil)
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はログインに使うメールアドレス。
	Email string `json:"email" binding:"required,email,max=255"`
	// Password は平文のパスワード。bcryptの上限に合わせて72バイトまで。
	Password string `json:"password" binding:"required,min=6,max=72"`
	// Role はユーザーのロール。省略時はuser。
	Role string `json:"role" binding:"omitempty,oneof=user supervisor"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// tokenResponse は登録とログインの成功レスポンス。
type tokenResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleRegister はユーザーを登録してアクセストークンを返すハンドラ。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid registration payload", err)
			return
		}
		if req.Role == "" {
			req.Role = token.RoleUser
		}
		email := normalizeEmail(req.Email)

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to register user", err)
			return
		}

		id, err := s.store.Create(c.Request.Context(), email, string(hash), req.Role)
		if errors.Is(err, ErrEmailTaken) {
			middleware.AbortWithDetail(c, http.StatusConflict, "Email already registered", err)
			return
		}
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to register user", err)
			return
		}

		s.logger.Info("ユーザーを登録しました", zap.Int64("user_id", id), zap.String("role", req.Role))
		s.respondWithToken(c, http.StatusCreated, id, email, req.Role)
	}
}

// handleLogin は資格情報を検証してアクセストークンを返すハンドラ。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid login payload", err)
			return
		}

		user, err := s.store.GetByEmail(c.Request.Context(), normalizeEmail(req.Email))
		if errors.Is(err, ErrUserNotFound) {
			middleware.AbortWithDetail(c, http.StatusNotFound, "Email not found", err)
			return
		}
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to log in", err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			middleware.AbortWithDetail(c, http.StatusUnauthorized, "Incorrect password", err)
			return
		}

		s.respondWithToken(c, http.StatusOK, user.ID, user.Email, user.Role)
	}
}

// respondWithToken はトークンを発行してレスポンスを書き込む。
func (s *Server) respondWithToken(c *gin.Context, status int, id int64, email, role string) {
	accessToken, err := s.codec.Issue(id, email, role, 0)
	if err != nil {
		middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	c.JSON(status, tokenResponse{
		ID:          id,
		Email:       email,
		Role:        role,
		AccessToken: accessToken,
		TokenType:   "bearer",
	})
}

// normalizeEmail はメールアドレスの前後の空白を除いて小文字にする。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Handler はテストなどで直接使うためのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。Shutdownが呼ばれるまで戻らない。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってからサーバーを停止し、DB接続を閉じる。
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.db.Close()
	return s.httpServer.Shutdown(ctx)
}
