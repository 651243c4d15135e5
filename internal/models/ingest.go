package models

// IngestHookRequest is the JSON body the media server posts to the publish
// callbacks. MediaMTX sends every field on its auth hook; simpler servers
// send only path.
type IngestHookRequest struct {
	Path     string `json:"path"`
	IP       string `json:"ip"`
	Protocol string `json:"protocol"`
	Action   string `json:"action"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Query    string `json:"query,omitempty"`
	ID       string `json:"id,omitempty"`
}

const (
	IngestActionPublish  = "publish"
	IngestActionRead     = "read"
	IngestActionPlayback = "playback"
)
