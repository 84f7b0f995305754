//go:build !opencv

package opencv

import (
	"context"
	"time"

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

type Renderer struct{}

func NewRenderer(*zap.Logger) (*Renderer, error) {
	return nil, ErrUnavailable
}

func (r *Renderer) Show(string, camera.Frame) error {
	return ErrUnavailable
}

func (r *Renderer) PollKey(string, time.Duration) (int, bool) {
	return 0, false
}

func (r *Renderer) Close(string) error {
	return nil
}
