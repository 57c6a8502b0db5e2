package auth

import (
	"go.uber.org/fx"

	"github.com/webitel/journal-sync/config"
)

var Module = fx.Module(
	"auth",
	fx.Provide(func(cfg *config.Config) *Verifier { return New(cfg.JWTSigningKey) }),
)
