// Package provider selects the generative-media backend at start-up.
package provider

import (
	"fmt"

	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/internal/provider/fal"
	"github.com/kiranshivaraju/vista/internal/provider/sandbox"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var (
	ErrUnauthorized = models.ErrProviderUnauthorized
	ErrUnavailable  = models.ErrProviderUnavailable
)

// NewProvider constructs the provider named in config.
// Called once at server startup.
func NewProvider(cfg config.ProviderConfig) (models.VideoProvider, error) {
	switch cfg.Name {
	case config.ProviderFal:
		return fal.NewClient(cfg), nil
	case config.ProviderSandbox:
		return sandbox.NewProvider(sandbox.DefaultTimings()), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: must be one of fal, sandbox", cfg.Name)
	}
}
