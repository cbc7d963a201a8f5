package models

// Camera describes a camera known to the upstream system
type Camera struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// Ref returns the reference embedded in events raised on this camera
func (c Camera) Ref() CameraRef {
	return CameraRef{ID: c.ID, Name: c.Name}
}
