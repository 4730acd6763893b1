package provider

import (
	"fmt"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/provider/mock"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// NewProvider constructs the image provider selected by config.
// Called once at server startup.
func NewProvider(cfg config.ProviderConfig) (models.Provider, error) {
	switch cfg.Kind {
	case "http":
		return NewHTTPClient(cfg), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q: must be one of http, mock", cfg.Kind)
	}
}
