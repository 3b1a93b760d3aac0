// internal/model/core/types.go
package core

import "time"

// Position is a WGS84 latitude/longitude pair
type Position struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// WeatherSnapshot is the weather captured when a marker was created
type WeatherSnapshot struct {
	Temp        float64 `json:"temp"` // kelvin
	Dt          int64   `json:"dt"`   // unix seconds
	Location    string  `json:"location"`
	Icon        string  `json:"icon"`
	Country     string  `json:"country"`
	Description string  `json:"description"`
}

// Owner is the author of a persisted marker
type Owner struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"profileImageUrl"`
}

// LocalImage is an image blob held by the client until its upload succeeds
type LocalImage struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	ModTime     time.Time
}

// Size returns the blob size in bytes.
func (i LocalImage) Size() int {
	return len(i.Data)
}

// LifecycleState tells whether a marker is known to the backend
type LifecycleState int

const (
	LocalDraft LifecycleState = iota
	Persisted
)

func (s LifecycleState) String() string {
	if s == Persisted {
		return "persisted"
	}
	return "local-draft"
}

// Auth is the viewer's authentication state. A zero Auth is anonymous.
type Auth struct {
	Token string
	User  *Owner
}

// Authenticated reports whether backend calls can be made.
func (a Auth) Authenticated() bool {
	return a.Token != ""
}

// AvatarURL returns the viewer's avatar, or "" when anonymous.
func (a Auth) AvatarURL() string {
	if a.User == nil {
		return ""
	}
	return a.User.AvatarURL
}
