package vault

import (
	"github.com/finbridge/payhub/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("vault",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) (Provider, error) {
	return NewFactory(Config{
		Provider:    cfg.Vault.Provider,
		AESKey:      cfg.Vault.AESKey,
		VaultAddr:   cfg.Vault.Addr,
		VaultToken:  cfg.Vault.Token,
		TransitPath: cfg.Vault.TransitPath,
		TransitKey:  cfg.Vault.TransitKey,
	})
}
