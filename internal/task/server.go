package task

import (
	"context"
	"database/sql"
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
	"github.com/nao1215/taskplatform/pkg/httpclient"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"github.com/nao1215/taskplatform/pkg/middleware"
	"github.com/nao1215/taskplatform/pkg/migration"
	"github.com/nao1215/taskplatform/pkg/token"
	"go.uber.org/zap"
)

// serviceName はログとメトリクスに使うサービス名。
const serviceName = "task"

//go:embed migrations
var migrationFS embed.FS

// Server はタスクサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// db はデータベース接続。
	db *sqlx.DB
	// store はタスクの永続化を行う。
	store *Store
	// notifier は担当者への通知を送る。
	notifier Notifier
	// identify は呼び出し元を識別するミドルウェア。
	identify gin.HandlerFunc
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
}

// NewServer は新しいタスクサーバーを生成する。
// データベースへの接続とマイグレーションの適用を行い、TrustModeに応じた識別方法を選ぶ。
func NewServer(cfg *config.Task, logger *zap.Logger) (*Server, error) {
	identify, err := identityMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := migration.Run(db, migrationFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	m := metrics.New(serviceName)
	notifier := NewHTTPNotifier(cfg.NotificationServiceURL, cfg.NotifyTimeout, m)
	s := newServer(db, identify, notifier, m, logger)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// identityMiddleware はTrustModeに応じた識別ミドルウェアを返す。
func identityMiddleware(cfg *config.Task) (gin.HandlerFunc, error) {
	switch cfg.TrustMode {
	case config.TrustModeHeader:
		return middleware.TrustedUser(), nil
	case config.TrustModeToken:
		codec, err := token.NewCodec(cfg.JWTSecretKey)
		if err != nil {
			return nil, fmt.Errorf("トークンコーデックの初期化に失敗: %w", err)
		}
		return middleware.BearerAuth(codec), nil
	default:
		return nil, fmt.Errorf("未知のTASK_TRUST_MODE: %q", cfg.TrustMode)
	}
}

// newServer はマイグレーション済みのDBからサーバーを組み立てる。
func newServer(db *sqlx.DB, identify gin.HandlerFunc, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		router:   gin.New(),
		db:       db,
		store:    NewStore(db),
		notifier: notifier,
		identify: identify,
		logger:   logger,
		metrics:  m,
	}
	s.router.RedirectTrailingSlash = false
	s.router.Use(middleware.AccessLog(logger))
	s.router.Use(middleware.Recovery(logger))
	s.router.Use(s.metrics.Middleware())
	s.setupRoutes()
	return s
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	tasks := s.router.Group("/tasks")
	tasks.Use(s.identify)
	{
		tasks.POST("", s.handleCreate())
		tasks.GET("", s.handleList())
		// 自分が担当するタスクだけの一覧
		tasks.GET("/assigned", s.handleListAssigned())
		tasks.GET("/:id", s.handleGet())
		tasks.PUT("/:id", s.handleUpdate())
		// assigned_toクエリがあれば削除せずに担当者を付け替える
		tasks.DELETE("/:id", s.handleDelete())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Task Service is running"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Not Found", nil)
	})
}

// taskResponse はタスクのJSONレスポンス構造。
type taskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	AssignedTo  int64   `json:"assigned_to"`
	CreatedBy   int64   `json:"created_by"`
	// CreatedAt はRFC3339形式の作成日時。
	CreatedAt string `json:"created_at"`
}

// toTaskResponse はDB行をJSONレスポンスに変換する。
func toTaskResponse(t *Task) taskResponse {
	resp := taskResponse{
		ID:         t.ID,
		Title:      t.Title,
		Status:     t.Status,
		AssignedTo: t.AssignedTo,
		CreatedBy:  t.CreatedBy,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Description.Valid {
		description := t.Description.String
		resp.Description = &description
	}
	return resp
}

// toTaskResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toTaskResponses(tasks []Task) []taskResponse {
	responses := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, toTaskResponse(&tasks[i]))
	}
	return responses
}

// createRequest はタスク作成リクエストのJSON構造。
type createRequest struct {
	Title       string  `json:"title" binding:"required,max=200"`
	Description *string `json:"description"`
	AssignedTo  int64   `json:"assigned_to" binding:"required,min=1"`
}

// updateRequest はタスク更新リクエストのJSON構造。省略した項目は変更しない。
type updateRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string `json:"description"`
	Status      *string `json:"status" binding:"omitempty,oneof=pending in_progress done"`
	AssignedTo  *int64  `json:"assigned_to" binding:"omitempty,min=1"`
}

// empty は変更項目が1つも無いかを返す。
func (r updateRequest) empty() bool {
	return r.Title == nil && r.Description == nil && r.Status == nil && r.AssignedTo == nil
}

// onlyStatus は状態以外の項目を含まないかを返す。
func (r updateRequest) onlyStatus() bool {
	return r.Title == nil && r.Description == nil && r.AssignedTo == nil
}

// handleCreate はタスクを作成して担当者へ通知するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid task payload", err)
			return
		}

		t := &Task{
			Title:      req.Title,
			AssignedTo: req.AssignedTo,
			CreatedBy:  middleware.GetUserID(c),
		}
		if req.Description != nil {
			t.Description = sql.NullString{String: *req.Description, Valid: true}
		}
		if err := s.store.Create(c.Request.Context(), t); err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to create task", err)
			return
		}

		fields := []zap.Field{zap.Int64("task_id", t.ID), zap.Int64("created_by", t.CreatedBy)}
		if identity := middleware.GetIdentity(c); identity != nil {
			fields = append(fields, zap.String("role", identity.Role))
		}
		s.logger.Info("タスクを作成しました", fields...)

		s.notify(c, t)
		c.JSON(http.StatusCreated, toTaskResponse(t))
	}
}

// handleList は呼び出し元が担当または作成したタスクの一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := s.store.ListForUser(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to list tasks", err)
			return
		}
		c.JSON(http.StatusOK, toTaskResponses(tasks))
	}
}

// handleListAssigned は呼び出し元が担当するタスクの一覧を返すハンドラ。
func (s *Server) handleListAssigned() gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := s.store.ListAssigned(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to list tasks", err)
			return
		}
		c.JSON(http.StatusOK, toTaskResponses(tasks))
	}
}

// handleGet は指定されたタスクを返すハンドラ。作成者と担当者だけが参照できる。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.loadTask(c)
		if !ok {
			return
		}
		userID := middleware.GetUserID(c)
		if t.CreatedBy != userID && t.AssignedTo != userID {
			middleware.AbortWithDetail(c, http.StatusForbidden, "Not authorized to access this task", nil)
			return
		}
		c.JSON(http.StatusOK, toTaskResponse(t))
	}
}

// handleUpdate はタスクを部分更新するハンドラ。
// 作成者はすべての項目を、担当者は状態だけを変更できる。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.loadTask(c)
		if !ok {
			return
		}

		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid task payload", err)
			return
		}
		if req.empty() {
			middleware.AbortWithDetail(c, http.StatusBadRequest, "No fields to update", nil)
			return
		}

		userID := middleware.GetUserID(c)
		switch {
		case t.CreatedBy == userID:
		case t.AssignedTo == userID:
			if !req.onlyStatus() {
				middleware.AbortWithDetail(c, http.StatusForbidden, "Assignee can only update the task status", nil)
				return
			}
		default:
			middleware.AbortWithDetail(c, http.StatusForbidden, "Not authorized to access this task", nil)
			return
		}

		previousAssignee := t.AssignedTo
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Description != nil {
			t.Description = sql.NullString{String: *req.Description, Valid: true}
		}
		if req.Status != nil {
			t.Status = *req.Status
		}
		if req.AssignedTo != nil {
			t.AssignedTo = *req.AssignedTo
		}

		if !s.save(c, t) {
			return
		}
		if t.AssignedTo != previousAssignee {
			s.notify(c, t)
		}
		c.JSON(http.StatusOK, toTaskResponse(t))
	}
}

// handleDelete はタスクを削除するハンドラ。作成者だけが実行できる。
// assigned_toクエリがある場合は削除せずに担当者を付け替える。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.loadTask(c)
		if !ok {
			return
		}
		if t.CreatedBy != middleware.GetUserID(c) {
			middleware.AbortWithDetail(c, http.StatusForbidden, "Only the task creator can delete or reassign this task", nil)
			return
		}

		if raw, reassign := c.GetQuery("assigned_to"); reassign {
			assignee, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || assignee < 1 {
				middleware.AbortWithDetail(c, http.StatusBadRequest, "Invalid assigned_to", err)
				return
			}
			changed := t.AssignedTo != assignee
			t.AssignedTo = assignee
			if !s.save(c, t) {
				return
			}
			if changed {
				s.notify(c, t)
			}
			c.JSON(http.StatusOK, gin.H{"message": "Task reassigned", "task_id": t.ID})
			return
		}

		if err := s.store.Delete(c.Request.Context(), t.ID); err != nil && !errors.Is(err, ErrNotFound) {
			middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to delete task", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "task_id": t.ID})
	}
}

// notify は操作したユーザーのIDを付けて担当者へ通知する。
func (s *Server) notify(c *gin.Context, t *Task) {
	ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
	notifyAssignee(ctx, s.notifier, s.logger, t)
}

// loadTask はパスの:idからタスクを読み込む。失敗した場合はレスポンスを書いてfalseを返す。
func (s *Server) loadTask(c *gin.Context) (*Task, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Task not found", err)
		return nil, false
	}
	t, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Task not found", err)
		return nil, false
	}
	if err != nil {
		middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to get task", err)
		return nil, false
	}
	return t, true
}

// save はタスクを保存する。失敗した場合はレスポンスを書いてfalseを返す。
func (s *Server) save(c *gin.Context, t *Task) bool {
	err := s.store.Update(c.Request.Context(), t)
	if errors.Is(err, ErrNotFound) {
		middleware.AbortWithDetail(c, http.StatusNotFound, "Task not found", err)
		return false
	}
	if err != nil {
		middleware.AbortWithDetail(c, http.StatusInternalServerError, "Failed to update task", err)
		return false
	}
	return true
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
