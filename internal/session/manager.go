package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/drummonds/tagview/internal/tagapi"
)

// Manager is the single writer of session state. Every change goes
// through Update and is published to live subscribers.
type Manager struct {
	store Store
	hub   *Hub
}

func NewManager(store Store, hub *Hub) *Manager {
	if hub == nil {
		hub = NewHub()
	}
	return &Manager{store: store, hub: hub}
}

func NewID() string {
	return uuid.New().String()
}

// ValidID reports whether id looks like one NewID handed out.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (m *Manager) Hub() *Hub { return m.hub }

func (m *Manager) Get(ctx context.Context, id string) (State, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) Update(ctx context.Context, id string, fn func(*State)) (State, error) {
	s, err := m.store.Update(ctx, id, fn)
	if err != nil {
		return State{}, err
	}
	m.hub.Publish(id, s)
	return s, nil
}

// Begin starts a new upload or sample analysis. It supersedes any request
// still outstanding and returns the generation that identifies the new one.
func (m *Manager) Begin(ctx context.Context, id string) (uint64, error) {
	var gen uint64
	_, err := m.Update(ctx, id, func(s *State) {
		s.Generation++
		s.Loading = true
		gen = s.Generation
	})
	return gen, err
}

// Apply runs fn only if gen is still the current generation. A late
// response from a superseded request is dropped.
func (m *Manager) Apply(ctx context.Context, id string, gen uint64, fn func(*State)) (bool, error) {
	applied := false
	_, err := m.Update(ctx, id, func(s *State) {
		if s.Generation != gen {
			return
		}
		fn(s)
		applied = true
	})
	return applied, err
}

// Finish clears Loading if gen is still current.
func (m *Manager) Finish(ctx context.Context, id string, gen uint64) error {
	_, err := m.Update(ctx, id, func(s *State) {
		if s.Generation == gen {
			s.Loading = false
		}
	})
	return err
}

// BeginAnalytics starts an analytics fetch. Only the newest fetch clears
// the loading indicator, so overlapping fetches keep it up until the last
// one settles.
func (m *Manager) BeginAnalytics(ctx context.Context, id string) (uint64, error) {
	var gen uint64
	_, err := m.Update(ctx, id, func(s *State) {
		s.AnalyticsGeneration++
		s.AnalyticsLoading = true
		s.AnalyticsTried = true
		gen = s.AnalyticsGeneration
	})
	return gen, err
}

// BeginFirstAnalytics is BeginAnalytics for the automatic load of a new
// session. started is false when a load was already attempted.
func (m *Manager) BeginFirstAnalytics(ctx context.Context, id string) (gen uint64, started bool, err error) {
	_, err = m.Update(ctx, id, func(s *State) {
		if s.AnalyticsTried || s.Analytics != nil {
			return
		}
		s.AnalyticsGeneration++
		s.AnalyticsLoading = true
		s.AnalyticsTried = true
		gen = s.AnalyticsGeneration
		started = true
	})
	return gen, started, err
}

// SetAnalytics stores summary unless a newer fetch has started since gen.
func (m *Manager) SetAnalytics(ctx context.Context, id string, gen uint64, summary *tagapi.AnalyticsSummary) (bool, error) {
	applied := false
	_, err := m.Update(ctx, id, func(s *State) {
		if s.AnalyticsGeneration != gen {
			return
		}
		s.Analytics = summary
		applied = true
	})
	return applied, err
}

// FinishAnalytics clears AnalyticsLoading if gen is still current.
func (m *Manager) FinishAnalytics(ctx context.Context, id string, gen uint64) error {
	_, err := m.Update(ctx, id, func(s *State) {
		if s.AnalyticsGeneration == gen {
			s.AnalyticsLoading = false
		}
	})
	return err
}

func (m *Manager) Notify(ctx context.Context, id string, f Flash) error {
	_, err := m.Update(ctx, id, func(s *State) {
		s.Flashes = append(s.Flashes, f)
	})
	return err
}

// Render returns the state for one page view and consumes its flashes.
func (m *Manager) Render(ctx context.Context, id string) (State, []Flash, error) {
	var flashes []Flash
	s, err := m.store.Update(ctx, id, func(s *State) {
		flashes = s.TakeFlashes()
	})
	if err != nil {
		return State{}, nil, err
	}
	return s, flashes, nil
}

// PublishImage stores img for generation gen and applies fn if gen is
// still current. The image of the previously shown result is then dropped;
// a superseded upload drops its own image instead.
func (m *Manager) PublishImage(ctx context.Context, id string, gen uint64, img *Image, fn func(*State)) (bool, error) {
	if img != nil {
		if err := m.store.PutImage(ctx, id, gen, *img); err != nil {
			return false, err
		}
	}
	var prev uint64
	applied, err := m.Apply(ctx, id, gen, func(s *State) {
		prev = s.ImageGeneration
		fn(s)
		s.ImageGeneration = gen
	})
	if err != nil {
		return false, err
	}
	switch {
	case !applied && img != nil:
		err = m.store.DeleteImage(ctx, id, gen)
	case applied && prev != 0 && prev != gen:
		err = m.store.DeleteImage(ctx, id, prev)
	}
	return applied, err
}

// Image returns the uploaded image produced by generation gen.
func (m *Manager) Image(ctx context.Context, id string, gen uint64) (*Image, error) {
	return m.store.Image(ctx, id, gen)
}

func (m *Manager) Close() error {
	return m.store.Close()
}
