package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hyakume/internal/camera"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー自身の情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string               `json:"status"`
	Server    ServerInfo           `json:"server"`
	Uptime    string               `json:"uptime"`
	Devices   int                  `json:"devices"`
	States    map[camera.State]int `json:"states"`
	Timestamp time.Time            `json:"timestamp"`
}

// DevicesResponse はデバイス一覧の応答
type DevicesResponse struct {
	Devices []camera.DeviceStatus `json:"devices"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	statuses := s.fleet.Statuses()

	// 状態ごとの台数を集計
	states := make(map[camera.State]int)
	for _, st := range statuses {
		states[st.State]++
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Devices:   len(statuses),
		States:    states,
		Timestamp: time.Now(),
	})
}

// handleDevices はデバイス一覧エンドポイント
func (s *Server) handleDevices(c *gin.Context) {
	statuses := s.fleet.Statuses()
	if statuses == nil {
		statuses = []camera.DeviceStatus{}
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: statuses})
}

// handleStopDevice は指定デバイスを停止する
func (s *Server) handleStopDevice(c *gin.Context) {
	id := c.Param("id")

	err := s.fleet.StopDevice(id)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, camera.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "device_not_found",
			Message:   "指定されたデバイスが見つかりません",
			Timestamp: time.Now(),
		})
	default:
		// 停止自体は完了しているが後始末でエラーが出た
		s.logger.Warn("デバイス停止時にエラーが発生しました", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "stop_failed",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	}
}
