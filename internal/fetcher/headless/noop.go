package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

// ErrDisabled is returned when headless rendering is not configured.
var ErrDisabled = errors.New("headless rendering not configured")

// Disabled stands in for Renderer when no browser is available.
type Disabled struct{}

// NewDisabled creates a Disabled renderer.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Render always fails with ErrDisabled.
func (Disabled) Render(context.Context, capture.FetchTarget) (Page, error) {
	return Page{}, ErrDisabled
}

// Screenshot always fails with ErrDisabled.
func (Disabled) Screenshot(context.Context, capture.FetchTarget, ShotOptions) ([]byte, error) {
	return nil, ErrDisabled
}

// Close is a no-op.
func (Disabled) Close() {}
