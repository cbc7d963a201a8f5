package upstream

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/protect"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

var defaultScores = map[models.EventType]float64{
	models.EventTypeMotion:      60,
	models.EventTypePerson:      80,
	models.EventTypeVehicle:     75,
	models.EventTypePackage:     70,
	models.EventTypeSmartDetect: 70,
	models.EventTypeSensor:      50,
	models.EventTypeDoorbell:    100,
}

// DefaultScore is the score assumed when the upstream omits one
func DefaultScore(t models.EventType) float64 {
	if s, ok := defaultScores[t]; ok {
		return s
	}
	return 50
}

// SeverityFromScore maps a 0-100 confidence score onto a severity. Band
// boundaries belong to the higher band.
func SeverityFromScore(score float64) models.Severity {
	switch {
	case score >= 90:
		return models.SeverityCritical
	case score >= 70:
		return models.SeverityHigh
	case score >= 50:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// MapKind translates a vendor event kind into an event type. ok is false for
// kinds the relay does not forward.
func MapKind(kind string, smartTypes []string) (models.EventType, bool) {
	switch {
	case kind == "motion":
		return models.EventTypeMotion, true
	case kind == "ring":
		return models.EventTypeDoorbell, true
	case kind == "smartDetectZone" || kind == "smartDetectLine":
		for _, st := range smartTypes {
			switch models.EventType(st) {
			case models.EventTypePerson, models.EventTypeVehicle, models.EventTypePackage:
				return models.EventType(st), true
			}
		}
		return models.EventTypeSmartDetect, true
	case strings.HasPrefix(kind, "sensor"):
		return models.EventTypeSensor, true
	default:
		return "", false
	}
}

// CameraLookup resolves a camera id to the camera record
type CameraLookup func(id string) (models.Camera, bool)

// Normalize turns one vendor update packet into an event. Only newly added
// event objects produce an event; every other update is ignored with
// ok=false. Missing fields are defaulted.
func Normalize(pkt *protect.Packet, lookup CameraLookup, now time.Time) (models.Event, bool) {
	if pkt == nil || pkt.ModelKey() != "event" || pkt.ActionName() != "add" {
		return models.Event{}, false
	}
	data := pkt.Data
	kind := str(data, "type")
	evtType, ok := MapKind(kind, strList(data, "smartDetectTypes"))
	if !ok {
		return models.Event{}, false
	}

	score, ok := num(data, "score")
	if !ok {
		score = DefaultScore(evtType)
	}
	ts := now
	if start, ok := num(data, "start"); ok && start > 0 {
		ts = time.UnixMilli(int64(start))
	}
	id := pkt.ID()
	if id == "" {
		id = str(data, "id")
	}
	if id == "" {
		id = uuid.NewString()
	}

	camID := str(data, "camera")
	if camID == "" {
		camID = str(data, "cameraId")
	}
	cam := models.Camera{ID: camID, Name: camID}
	if lookup != nil {
		if known, found := lookup(camID); found {
			cam = known
		}
	}

	evt := buildEvent(id, evtType, score, ts, cam)
	evt.Thumbnail = str(data, "thumbnail")
	evt.Metadata[models.MetaSource] = models.SourceProtect
	evt.Metadata["vendorType"] = kind
	return evt, true
}

func buildEvent(id string, t models.EventType, score float64, ts time.Time, cam models.Camera) models.Event {
	score = math.Max(0, math.Min(100, score))
	return models.Event{
		ID:          id,
		Type:        t,
		Severity:    SeverityFromScore(score),
		Timestamp:   ts.UTC(),
		Camera:      cam.Ref(),
		Description: Describe(t, cam.Name),
		Metadata: map[string]interface{}{
			models.MetaScore: score,
		},
	}
}

// Describe renders the human readable line shown in notifications
func Describe(t models.EventType, cameraName string) string {
	if cameraName == "" {
		cameraName = "unknown camera"
	}
	switch t {
	case models.EventTypeMotion:
		return fmt.Sprintf("Motion detected on %s", cameraName)
	case models.EventTypePerson:
		return fmt.Sprintf("Person detected on %s", cameraName)
	case models.EventTypeVehicle:
		return fmt.Sprintf("Vehicle detected on %s", cameraName)
	case models.EventTypePackage:
		return fmt.Sprintf("Package detected on %s", cameraName)
	case models.EventTypeDoorbell:
		return fmt.Sprintf("Doorbell ring on %s", cameraName)
	case models.EventTypeSensor:
		return fmt.Sprintf("Sensor triggered near %s", cameraName)
	default:
		return fmt.Sprintf("Smart detection on %s", cameraName)
	}
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func strList(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
