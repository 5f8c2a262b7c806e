package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummonds/tagview/internal/tagapi"
)

func TestGenerationSupersedesLateResponse(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	first, err := m.Begin(ctx, id)
	require.NoError(t, err)
	second, err := m.Begin(ctx, id)
	require.NoError(t, err)
	require.Greater(t, second, first)

	ok, err := m.Apply(ctx, id, second, func(s *State) {
		s.ImageURL = "/image/current"
		s.Tags = []tagapi.Tag{{Name: "dog", Confidence: 90}}
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Finish(ctx, id, second))

	// The first request resolves last; it must not win.
	ok, err = m.Apply(ctx, id, first, func(s *State) {
		s.Tags = []tagapi.Tag{{Name: "cat", Confidence: 90}}
	})
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dog", s.Tags[0].Name)
	assert.False(t, s.Loading)
}

func TestFinishOfStaleRequestKeepsLoading(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	first, _ := m.Begin(ctx, id)
	_, _ = m.Begin(ctx, id)
	require.NoError(t, m.Finish(ctx, id, first))

	s, _ := m.Get(ctx, id)
	assert.True(t, s.Loading, "newer request still outstanding")
}

func TestRenderConsumesFlashes(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	require.NoError(t, m.Notify(ctx, id, Flash{Kind: FlashError, Message: "boom"}))
	_, flashes, err := m.Render(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Flash{{Kind: FlashError, Message: "boom"}}, flashes)

	_, flashes, err = m.Render(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, flashes)
}

func TestHubReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	ch, release := m.Hub().Subscribe(id)
	defer release()

	_, err := m.Begin(ctx, id)
	require.NoError(t, err)

	select {
	case s := <-ch:
		assert.True(t, s.Loading)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	release()
	assert.Equal(t, 0, m.Hub().Subscribers(id))
}

func TestSupersededUploadKeepsShownImage(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()
	set := func(url string) func(*State) {
		return func(s *State) { s.ImageURL = url }
	}

	first, _ := m.Begin(ctx, id)
	ok, err := m.PublishImage(ctx, id, first, &Image{Name: "one.png", Data: []byte{1}}, set("/one"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Finish(ctx, id, first))

	second, _ := m.Begin(ctx, id)
	third, _ := m.Begin(ctx, id)
	// second resolves after third began; its bytes must not replace the
	// image of the result on screen
	ok, err = m.PublishImage(ctx, id, second, &Image{Name: "two.png", Data: []byte{2}}, set("/two"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.Finish(ctx, id, third))

	s, _ := m.Get(ctx, id)
	assert.Equal(t, "/one", s.ImageURL)
	assert.Equal(t, first, s.ImageGeneration)
	img, err := m.Image(ctx, id, s.ImageGeneration)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, img.Data)
	_, err = m.Image(ctx, id, second)
	assert.ErrorIs(t, err, ErrNoImage)

	// a newer result replaces the old image
	ok, err = m.PublishImage(ctx, id, third, &Image{Name: "three.png", Data: []byte{3}}, set("/three"))
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = m.Image(ctx, id, first)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestFirstAnalyticsLoadStartsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	gen, started, err := m.BeginFirstAnalytics(ctx, id)
	require.NoError(t, err)
	require.True(t, started)
	require.NoError(t, m.FinishAnalytics(ctx, id, gen))

	_, started, err = m.BeginFirstAnalytics(ctx, id)
	require.NoError(t, err)
	assert.False(t, started, "a failed first load is not retried")

	s, _ := m.Get(ctx, id)
	assert.False(t, s.AnalyticsLoading)
	assert.Nil(t, s.Analytics)
}

func TestOverlappingAnalyticsKeepLoading(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(time.Hour, 10), nil)
	id := NewID()

	first, _ := m.BeginAnalytics(ctx, id)
	second, _ := m.BeginAnalytics(ctx, id)

	ok, err := m.SetAnalytics(ctx, id, first, &tagapi.AnalyticsSummary{TotalImages: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.FinishAnalytics(ctx, id, first))

	s, _ := m.Get(ctx, id)
	assert.True(t, s.AnalyticsLoading, "newer fetch still outstanding")

	ok, err = m.SetAnalytics(ctx, id, second, &tagapi.AnalyticsSummary{TotalImages: 2})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.FinishAnalytics(ctx, id, second))

	s, _ = m.Get(ctx, id)
	assert.False(t, s.AnalyticsLoading)
	assert.Equal(t, 2, s.Analytics.TotalImages)
}

func TestMemoryStoreEvictsAndExpires(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(50*time.Millisecond, 2)

	_, _ = st.Update(ctx, "a", func(s *State) { s.ImageURL = "a" })
	_, _ = st.Update(ctx, "b", func(s *State) { s.ImageURL = "b" })
	_, _ = st.Update(ctx, "c", func(s *State) { s.ImageURL = "c" })
	assert.Equal(t, 2, st.Len())

	time.Sleep(80 * time.Millisecond)
	s, err := st.Get(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, s.ImageURL)

	_, err = st.Image(ctx, "c", 1)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Hour, 10)
	s, _ := st.Update(ctx, "a", func(s *State) { s.Tags = []tagapi.Tag{{Name: "x"}} })
	s.Tags[0].Name = "mutated"

	got, _ := st.Get(ctx, "a")
	assert.Equal(t, "x", got.Tags[0].Name)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID("../etc/passwd"))
}

// Runs only when a Redis instance is available.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TAGVIEW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TAGVIEW_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	st := NewRedisStore(rdb, time.Minute)
	defer st.Close()

	id := NewID()
	_, err = st.Update(ctx, id, func(s *State) {
		s.ImageURL = "/image/current"
		s.Tags = []tagapi.Tag{{Name: "cat", Confidence: 85, IsPrimary: true}}
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cat", got.Tags[0].Name)

	require.NoError(t, st.PutImage(ctx, id, 1, Image{Name: "cat.png", ContentType: "image/png", Data: []byte{1, 2}}))
	img, err := st.Image(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, img.Data)

	require.NoError(t, st.DeleteImage(ctx, id, 1))
	_, err = st.Image(ctx, id, 1)
	assert.ErrorIs(t, err, ErrNoImage)
}
