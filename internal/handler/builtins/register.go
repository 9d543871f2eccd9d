package builtins

import (
	"fmt"

	"github.com/planexec/planexec/internal/handler"
)

// RegisterAll registers every builtin handler with the given registry. The
// corpus backs the search handler; pass nil when search steps are served by
// an external provider registered separately.
func RegisterAll(registry handler.Registry, corpus []Document) error {
	handlers := []handler.Handler{
		NewSearchHandler(corpus),
		NewReadURLHandler(),
		NewVerifyHandler(),
		NewSynthesizeHandler(),
	}

	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("failed to register builtin handler %q: %w", h.Name(), err)
		}
	}

	return nil
}
