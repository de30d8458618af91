package directory

import "context"

// Profile is the display metadata the platform's directory holds for a
// participant. This service never stores it; it only resolves ids on behalf
// of its responses.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}

type Directory interface {
	Resolve(ctx context.Context, userID string) (*Profile, error)
}

// Noop resolves every id to a bare profile. Used until the directory service
// endpoint is wired into the deployment.
type Noop struct{}

func (Noop) Resolve(_ context.Context, userID string) (*Profile, error) {
	return &Profile{ID: userID}, nil
}
