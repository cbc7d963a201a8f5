package upstream

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

var simulatedTypes = []models.EventType{
	models.EventTypeMotion,
	models.EventTypeMotion,
	models.EventTypePerson,
	models.EventTypeVehicle,
	models.EventTypePackage,
	models.EventTypeDoorbell,
}

// Simulator produces synthetic events tagged as simulated
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSimulator returns a simulator seeded with seed
func NewSimulator(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

// Next builds one synthetic event on a random camera from cameras, falling
// back to the built-in camera list when cameras is empty.
func (s *Simulator) Next(cameras []models.Camera) models.Event {
	if len(cameras) == 0 {
		cameras = DefaultCameras()
	}

	s.mu.Lock()
	t := simulatedTypes[s.rng.Intn(len(simulatedTypes))]
	cam := cameras[s.rng.Intn(len(cameras))]
	jitter := float64(s.rng.Intn(31) - 15)
	s.mu.Unlock()

	score := DefaultScore(t)
	if t != models.EventTypeDoorbell {
		score += jitter
	}

	evt := buildEvent(uuid.NewString(), t, score, s.now(), cam)
	evt.Metadata[models.MetaSimulated] = true
	evt.Metadata[models.MetaSource] = models.SourceSimulator
	return evt
}
