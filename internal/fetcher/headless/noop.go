package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// ErrDisabled is returned when rendering was requested but headless Chrome
// is turned off.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop is used when headless rendering is disabled in configuration.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrDisabled
}
