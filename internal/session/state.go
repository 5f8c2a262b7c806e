// Package session holds the per-visitor UI state and the only ways to
// change it.
package session

import (
	"time"

	"github.com/drummonds/tagview/internal/tagapi"
)

type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

// Flash is a transient notification shown once.
type Flash struct {
	Kind    FlashKind `json:"kind"`
	Message string    `json:"message"`
}

// State is everything the page is rendered from.
//
// Tags is only non-empty while ImageURL is set, and Loading is only true
// while the request identified by Generation is outstanding.
// ImageGeneration is the request that produced the image on screen; it
// lags Generation while a newer request is running or after one failed.
type State struct {
	ImageURL        string       `json:"image_url,omitempty"`
	ImageName       string       `json:"image_name,omitempty"`
	ImageDetails    string       `json:"image_details,omitempty"`
	ImageGeneration uint64       `json:"image_generation"`
	Uploaded        bool         `json:"uploaded"`
	Tags            []tagapi.Tag `json:"tags"`
	Loading         bool         `json:"loading"`
	Generation      uint64       `json:"generation"`

	Analytics *tagapi.AnalyticsSummary `json:"analytics,omitempty"`
	// AnalyticsTried is set once the first automatic load has started, so
	// a failing backend is asked once per session, not once per view.
	AnalyticsTried      bool   `json:"analytics_tried"`
	AnalyticsLoading    bool   `json:"analytics_loading"`
	AnalyticsGeneration uint64 `json:"analytics_generation"`

	Flashes   []Flash   `json:"flashes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Image is an uploaded image kept so the preview and the full-screen
// viewer can show it back.
type Image struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// TakeFlashes returns pending notifications and clears them.
func (s *State) TakeFlashes() []Flash {
	f := s.Flashes
	s.Flashes = nil
	return f
}

func (s *State) clone() State {
	c := *s
	if s.Tags != nil {
		c.Tags = append([]tagapi.Tag(nil), s.Tags...)
	}
	if s.Flashes != nil {
		c.Flashes = append([]Flash(nil), s.Flashes...)
	}
	if s.Analytics != nil {
		a := *s.Analytics
		a.TopTags = append([]tagapi.TopTag(nil), s.Analytics.TopTags...)
		c.Analytics = &a
	}
	return c
}
