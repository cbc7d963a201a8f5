package upstream

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/protect"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

func normalize(action, data map[string]interface{}, lookup CameraLookup, now time.Time) (models.Event, bool) {
	return Normalize(&protect.Packet{Action: action, Data: data}, lookup, now)
}

func TestSeverityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Severity
	}{
		{95, models.SeverityCritical},
		{90, models.SeverityCritical},
		{89.9, models.SeverityHigh},
		{75, models.SeverityHigh},
		{70, models.SeverityHigh},
		{55, models.SeverityMedium},
		{50, models.SeverityMedium},
		{49, models.SeverityLow},
		{10, models.SeverityLow},
		{0, models.SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFromScore(tt.score); got != tt.want {
			t.Errorf("SeverityFromScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestMapKind(t *testing.T) {
	tests := []struct {
		kind   string
		smart  []string
		want   models.EventType
		wantOK bool
	}{
		{"motion", nil, models.EventTypeMotion, true},
		{"ring", nil, models.EventTypeDoorbell, true},
		{"smartDetectZone", []string{"person"}, models.EventTypePerson, true},
		{"smartDetectLine", []string{"animal", "vehicle"}, models.EventTypeVehicle, true},
		{"smartDetectZone", []string{"package"}, models.EventTypePackage, true},
		{"smartDetectZone", []string{"animal"}, models.EventTypeSmartDetect, true},
		{"smartDetectZone", nil, models.EventTypeSmartDetect, true},
		{"sensorOpened", nil, models.EventTypeSensor, true},
		{"sensorMotion", nil, models.EventTypeSensor, true},
		{"disconnect", nil, "", false},
		{"", nil, "", false},
	}
	for _, tt := range tests {
		got, ok := MapKind(tt.kind, tt.smart)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MapKind(%q, %v) = (%s, %v), want (%s, %v)", tt.kind, tt.smart, got, ok, tt.want, tt.wantOK)
		}
	}
}

func lookupFrom(cams ...models.Camera) CameraLookup {
	byID := make(map[string]models.Camera, len(cams))
	for _, c := range cams {
		byID[c.ID] = c
	}
	return func(id string) (models.Camera, bool) {
		c, ok := byID[id]
		return c, ok
	}
}

func TestNormalizeFullPayload(t *testing.T) {
	lookup := lookupFrom(models.Camera{ID: "cam-1", Name: "Front Door"})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	evt, ok := normalize(
		map[string]interface{}{"action": "add", "modelKey": "event", "id": "evt-1"},
		map[string]interface{}{
			"type":             "smartDetectZone",
			"smartDetectTypes": []interface{}{"person"},
			"camera":           "cam-1",
			"score":            float64(92),
			"start":            float64(start.UnixMilli()),
			"thumbnail":        "e-evt-1",
		},
		lookup, time.Now(),
	)
	require.True(t, ok)
	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, models.EventTypePerson, evt.Type)
	assert.Equal(t, models.SeverityCritical, evt.Severity)
	assert.True(t, evt.Timestamp.Equal(start))
	assert.Equal(t, models.CameraRef{ID: "cam-1", Name: "Front Door"}, evt.Camera)
	assert.Equal(t, "Person detected on Front Door", evt.Description)
	assert.Equal(t, "e-evt-1", evt.Thumbnail)
	assert.Equal(t, models.SourceProtect, evt.Metadata[models.MetaSource])
	assert.False(t, evt.Simulated())
}

func TestNormalizeDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	evt, ok := normalize(
		map[string]interface{}{"action": "add", "modelKey": "event"},
		map[string]interface{}{"type": "ring", "camera": "cam-unknown"},
		nil, now,
	)
	require.True(t, ok)
	_, err := uuid.Parse(evt.ID)
	assert.NoError(t, err, "missing id should be replaced with a uuid")
	assert.True(t, evt.Timestamp.Equal(now))
	assert.Equal(t, models.EventTypeDoorbell, evt.Type)
	assert.Equal(t, models.SeverityCritical, evt.Severity, "doorbell defaults to the top band")
	assert.Equal(t, float64(100), evt.Metadata[models.MetaScore])
	assert.Equal(t, "cam-unknown", evt.Camera.Name)
}

func TestNormalizeDefaultScoresPerKind(t *testing.T) {
	tests := []struct {
		kind string
		want models.Severity
	}{
		{"motion", models.SeverityMedium},
		{"sensorOpened", models.SeverityMedium},
		{"smartDetectZone", models.SeverityHigh},
	}
	for _, tt := range tests {
		evt, ok := normalize(
			map[string]interface{}{"action": "add", "modelKey": "event", "id": "x"},
			map[string]interface{}{"type": tt.kind},
			nil, time.Now(),
		)
		require.True(t, ok, tt.kind)
		assert.Equal(t, tt.want, evt.Severity, tt.kind)
	}
}

func TestNormalizeIgnoresOtherUpdates(t *testing.T) {
	data := map[string]interface{}{"type": "motion"}
	cases := []map[string]interface{}{
		{"action": "update", "modelKey": "event"},
		{"action": "add", "modelKey": "camera"},
		{},
	}
	for _, action := range cases {
		if _, ok := normalize(action, data, nil, time.Now()); ok {
			t.Fatalf("expected %v to be ignored", action)
		}
	}
	if _, ok := normalize(map[string]interface{}{"action": "add", "modelKey": "event"}, map[string]interface{}{"type": "lightOn"}, nil, time.Now()); ok {
		t.Fatal("expected unknown kind to be ignored")
	}
}

func TestNormalizeClampsScore(t *testing.T) {
	evt, ok := normalize(
		map[string]interface{}{"action": "add", "modelKey": "event", "id": "x"},
		map[string]interface{}{"type": "motion", "score": float64(180)},
		nil, time.Now(),
	)
	require.True(t, ok)
	assert.Equal(t, float64(100), evt.Metadata[models.MetaScore])
}

func TestNormalizeNilPacket(t *testing.T) {
	if _, ok := Normalize(nil, nil, time.Now()); ok {
		t.Fatal("expected nil packet to be ignored")
	}
}
