package models

// Filter is a client's interest predicate. An empty allow-list places no
// restriction on that dimension.
type Filter struct {
	Enabled  bool        `json:"enabled"`
	Types    []EventType `json:"types,omitempty"`
	Severity []Severity  `json:"severity,omitempty"`
	Cameras  []string    `json:"cameras,omitempty"`
}

// DefaultFilter is assigned to every client on connect: enabled, unrestricted
func DefaultFilter() Filter {
	return Filter{Enabled: true}
}

// Clone returns a deep copy so callers cannot mutate a registered filter
func (f Filter) Clone() Filter {
	out := Filter{Enabled: f.Enabled}
	if len(f.Types) > 0 {
		out.Types = append([]EventType(nil), f.Types...)
	}
	if len(f.Severity) > 0 {
		out.Severity = append([]Severity(nil), f.Severity...)
	}
	if len(f.Cameras) > 0 {
		out.Cameras = append([]string(nil), f.Cameras...)
	}
	return out
}
