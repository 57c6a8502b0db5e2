package clock

import "go.uber.org/fx"

// Module provides the process-wide Clock.
var Module = fx.Module(
	"clock",
	fx.Provide(func() Clock { return New() }),
)
