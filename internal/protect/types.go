package protect

// Bootstrap is the subset of the console state the relay uses
type Bootstrap struct {
	LastUpdateID string       `json:"lastUpdateId"`
	NVR          NVR          `json:"nvr"`
	Cameras      []CameraInfo `json:"cameras"`
}

// NVR identifies the console itself
type NVR struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CameraInfo is a camera as listed in the bootstrap
type CameraInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MarketName  string `json:"marketName"`
	State       string `json:"state"`
	IsConnected bool   `json:"isConnected"`
}
