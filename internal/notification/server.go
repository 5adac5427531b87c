package notification

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/nao1215/taskplatform/pkg/config"
	"github.com/nao1215/taskplatform/pkg/database"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"github.com/nao1215/taskplatform/pkg/middleware"
	"github.com/nao1215/taskplatform/pkg/migration"
	"go.uber.org/zap"
)

// serviceName はログとメトリクスに使うサービス名。
const serviceName = "notification"

//go:embed migrations
var migrationFS embed.FS

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// db はデータベース接続。
	db *sqlx.DB
	// store は通知の永続化を行う。
	store *Store
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しい通知サーバーを生成する。
// データベースへの接続とマイグレーションの適用を行う。
func NewServer(cfg *config.Notification, logger *zap.Logger) (*Server, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := migration.Run(db, migrationFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	s := newServer(db, logger)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// newServer はマイグレーション済みのDBからサーバーを組み立てる。
func newServer(db *sqlx.DB, logger *zap.Logger) *Server {
	s := &Server{
		router:  gin.New(),
		db:      db,
		store:   NewStore(db),
		logger:  logger,
		metrics: metrics.New(serviceName),
	}
	s.router.Use(middleware.AccessLog(logger))
	s.router.Use(middleware.Recovery(logger))
	s.router.Use(s.metrics.Middleware())
	s.setupRoutes()
	return s
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 通知作成（内部API - タスクサービスから呼び出される）
	s.router.POST("/notify", s.handleNotify())

	notifications := s.router.Group("/notifications")
	notifications.Use(middleware.TrustedUser())
	{
		// 通知一覧取得
		notifications.GET("", s.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", s.handleListUnread())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllAsRead())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Notification Service is running"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Not Found", nil)
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID int64 `json:"id"`
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// TaskID は関連するタスクのID。
	TaskID *int64 `json:"task_id"`
	// Read は通知の既読状態。
	Read bool `json:"read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		Read:      n.IsRead,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.TaskID.Valid {
		taskID := n.TaskID.Int64
		resp.TaskID = &taskID
	}
	return resp
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// notifyRequest は通知作成リクエストのJSON構造。
type notifyRequest struct {
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id" binding:"required,min=1"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required,max=500"`
	// TaskID は関連するタスクのID。
	TaskID *int64 `json:"task_id"`
}

// handleNotify は通知を作成するハンドラ。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid notification payload", err)
			return
		}

		id, err := s.store.Create(c.Request.Context(), req.UserID, req.Message, req.TaskID)
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to create notification", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "Notification created",
			"id":      id,
		})
	}
}

// handleList は呼び出し元ユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.store.ListByUser(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to list notifications", err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は呼び出し元ユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := s.store.ListUnread(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to list notifications", err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusNotFound, "Notification not found", err)
			return
		}

		// 通知の存在確認と所有者チェック
		n, err := s.store.Get(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			middleware.AbortWithDetail(c, http.StatusNotFound, "Notification not found", err)
			return
		}
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to get notification", err)
			return
		}
		if n.UserID != middleware.GetUserID(c) {
			middleware.AbortWithDetail(c, http.StatusForbidden, "Not authorized to modify this notification", nil)
			return
		}

		if err := s.store.MarkAsRead(c.Request.Context(), id); err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to mark notification as read", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
	}
}

// handleMarkAllAsRead は呼び出し元ユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.store.MarkAllAsRead(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to mark notifications as read", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "All notifications marked as read",
			"updated": updated,
		})
	}
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
