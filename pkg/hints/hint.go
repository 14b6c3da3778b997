package hints

import (
	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

// Hint asks a consumer to prefetch one target.
type Hint struct {
	Target   string `json:"target"`
	Priority string `json:"priority,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// taskOptions maps the hint onto prefetch task options.
func (h Hint) taskOptions() []prefetch.TaskOption {
	opts := []prefetch.TaskOption{
		prefetch.WithPriority(prefetch.ParsePriority(h.Priority)),
	}
	if h.Force {
		opts = append(opts, prefetch.Forced())
	}
	return opts
}

// hintArgs is the River job arguments type of every hint.
type hintArgs struct {
	Hint
	UniqueKey string `json:"unique_key,omitempty"`
}

func (hintArgs) Kind() string {
	return "warmcache:prefetch_hint"
}
