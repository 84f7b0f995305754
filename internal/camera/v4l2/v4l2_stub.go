//go:build !linux

package v4l2

import (
	"context"

	"go.uber.org/zap"

	"hyakume/internal/camera"
)

func Available() bool {
	return false
}

type Hardware struct{}

func NewHardware(*zap.Logger) (*Hardware, error) {
	return nil, ErrUnavailable
}

func (h *Hardware) Open(context.Context, string) (camera.Handle, error) {
	return nil, ErrUnavailable
}

func CheckCapture(context.Context, string) bool {
	return false
}
