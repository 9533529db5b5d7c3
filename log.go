package rivet

import (
	"log/slog"

	"github.com/statefold/rivet/internal"
)

// SetLogger swaps the structured logger used for rule failures and lazy-load
// errors. Defaults to slog.Default.
func SetLogger(l *slog.Logger) {
	internal.SetLogger(l)
}
