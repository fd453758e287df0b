package call

import (
	"time"

	"github.com/jinzhu/copier"
)

// Options are the per-call dialog parameters. A zero field means "use the
// configured default".
type Options struct {
	Greeting    string
	Prompt      string
	Voice       string
	Language    string
	MaxTurns    int
	MaxDuration time.Duration
}

// Merged overlays the non-zero fields of overrides onto o and returns the
// result. Neither receiver nor argument is modified.
func (o Options) Merged(overrides Options) Options {
	merged := o
	_ = copier.CopyWithOption(&merged, &overrides, copier.Option{IgnoreEmpty: true})
	return merged
}
