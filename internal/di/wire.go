//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"MarketGuard/pkg/config"
	"MarketGuard/pkg/server"
)

// InitializeApp wires every component from the configuration.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(ProviderSet)
	return &server.App{}, nil
}
