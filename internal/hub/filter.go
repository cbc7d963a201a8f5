package hub

import "github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"

// Matches reports whether evt passes every dimension of f. An empty
// allow-list on a dimension accepts everything.
func Matches(f models.Filter, evt models.Event) bool {
	if !f.Enabled {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, evt.Type) {
		return false
	}
	if len(f.Severity) > 0 && !containsSeverity(f.Severity, evt.Severity) {
		return false
	}
	if len(f.Cameras) > 0 && !containsString(f.Cameras, evt.Camera.ID) {
		return false
	}
	return true
}

func containsType(set []models.EventType, v models.EventType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsSeverity(set []models.Severity, v models.Severity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
