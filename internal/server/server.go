package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hyakume/internal/camera"
	"hyakume/internal/config"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間
const shutdownTimeout = 5 * time.Second

// Fleet はサーバーが参照するデバイス群
type Fleet interface {
	Statuses() []camera.DeviceStatus
	StopDevice(id string) error
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	fleet      Fleet
	logger     *zap.Logger
	router     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, fleet Fleet, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    cfg,
		fleet:     fleet,
		logger:    logger,
		router:    gin.New(),
		startedAt: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.accessLog())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/devices", s.handleDevices)
	api.POST("/devices/:id/stop", s.handleStopDevice)
}

// accessLog はリクエストを zap に記録するミドルウェア
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTPリクエスト",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Start はサーバーを起動し、ctx が終わるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は listener で待ち受ける
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	serveErr := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("address", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
