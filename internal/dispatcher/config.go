package dispatcher

import "github.com/dshills/magicline/internal/dispatcher/execctx"

// Config holds dispatcher configuration options.
type Config struct {
	// Mode selects what Interpret does with a block: execute it live or
	// rewrite it into a single script.
	Mode execctx.Mode

	// EnableMetrics enables per-command timing and statistics collection.
	EnableMetrics bool

	// RecoverFromPanic wraps handler execution in panic recovery.
	RecoverFromPanic bool

	// Origin tags exec requests made through the invocation context.
	Origin string

	// Sigil is the default exec sigil.
	Sigil string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             execctx.ModeExecute,
		EnableMetrics:    false,
		RecoverFromPanic: true,
		Origin:           "(magicline exec)",
		Sigil:            "!",
	}
}

// WithMode returns a copy of the config with the operating mode set.
func (c Config) WithMode(mode execctx.Mode) Config {
	c.Mode = mode
	return c
}

// WithMetrics returns a copy of the config with metrics enabled.
func (c Config) WithMetrics() Config {
	c.EnableMetrics = true
	return c
}

// WithPanicRecovery returns a copy of the config with panic recovery set.
func (c Config) WithPanicRecovery(recover bool) Config {
	c.RecoverFromPanic = recover
	return c
}

// WithExecOrigin returns a copy of the config with the exec origin and sigil set.
func (c Config) WithExecOrigin(origin, sigil string) Config {
	if origin != "" {
		c.Origin = origin
	}
	if sigil != "" {
		c.Sigil = sigil
	}
	return c
}
