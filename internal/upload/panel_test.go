package upload

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/tagapi"
)

type fakeAPI struct {
	uploads  int
	analyzes []int
	tags     map[int][]tagapi.Tag
	err      error
	samples  []tagapi.SampleImage
}

func (f *fakeAPI) UploadImage(_ context.Context, _, _ string, _ []byte, _ tagapi.UploadOptions) (*tagapi.TagResult, error) {
	f.uploads++
	if f.err != nil {
		return nil, f.err
	}
	return &tagapi.TagResult{Tags: []tagapi.Tag{
		{Name: "cat", Confidence: 85, IsPrimary: true},
		{Name: "animal", Confidence: 45},
	}}, nil
}

func (f *fakeAPI) GetSampleImages(context.Context) ([]tagapi.SampleImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.samples, nil
}

func (f *fakeAPI) AnalyzeSampleImage(_ context.Context, id int, _ float64) (*tagapi.TagResult, error) {
	f.analyzes = append(f.analyzes, id)
	if f.err != nil {
		return nil, f.err
	}
	return &tagapi.TagResult{Tags: f.tags[id]}, nil
}

func (f *fakeAPI) SampleImageURL(s tagapi.SampleImage) string {
	if s.ImageURL == "" {
		return ""
	}
	return "http://" + s.ImageURL
}

// recordingSink stands in for the session. It keeps the loading
// transitions so tests can check their order.
type recordingSink struct {
	loading       bool
	transitions   []bool
	imageURL      string
	tags          []tagapi.Tag
	notifications []Notification
}

func (r *recordingSink) SetLoading(l bool) {
	r.loading = l
	r.transitions = append(r.transitions, l)
}

func (r *recordingSink) Publish(res Result) {
	r.imageURL = res.ImageURL
	r.tags = res.Tags
}

func (r *recordingSink) Notify(n Notification) { r.notifications = append(r.notifications, n) }

func newPanel(api API) *Panel {
	return NewPanel(api, Options{}, zap.NewNop())
}

func TestRejectsNonImageBeforeNetwork(t *testing.T) {
	for _, ct := range []string{"application/pdf", "text/plain", "", "video/mp4"} {
		api := &fakeAPI{}
		sink := &recordingSink{}
		err := newPanel(api).UploadFile(context.Background(), sink, FileInfo{Name: "x", ContentType: ct, Size: 10}, []byte("x"), "/image/current")

		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "content type %q", ct)
		assert.Equal(t, 0, api.uploads)
		assert.Empty(t, sink.transitions)
		require.Len(t, sink.notifications, 1)
		assert.Equal(t, "Please select an image file", sink.notifications[0].Message)
	}
}

func TestRejectsOversizeBeforeNetwork(t *testing.T) {
	api := &fakeAPI{}
	sink := &recordingSink{}
	err := newPanel(api).UploadFile(context.Background(), sink, FileInfo{Name: "big.png", ContentType: "image/png", Size: MaxFileSize + 1}, nil, "")

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 0, api.uploads)
	assert.Equal(t, "Image size must be less than 10MB", sink.notifications[0].Message)
}

func TestExactlyTenMiBIsAccepted(t *testing.T) {
	assert.NoError(t, Validate(FileInfo{ContentType: "image/jpeg", Size: MaxFileSize}))
}

func TestLoadingTogglesOncePerAttempt(t *testing.T) {
	cases := map[string]error{
		"success": nil,
		"network": &tagapi.NetworkError{Op: "upload image", Err: errors.New("refused")},
		"server":  &tagapi.ServerError{Op: "upload image", Status: 500},
	}
	for name, apiErr := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			_ = newPanel(&fakeAPI{err: apiErr}).UploadFile(context.Background(), sink,
				FileInfo{Name: "cat.png", ContentType: "image/png", Size: 3}, []byte{1, 2, 3}, "/image/current")
			assert.Equal(t, []bool{true, false}, sink.transitions)
			assert.False(t, sink.loading)
		})
	}
}

func TestUploadSuccessPublishes(t *testing.T) {
	sink := &recordingSink{}
	err := newPanel(&fakeAPI{}).UploadFile(context.Background(), sink,
		FileInfo{Name: "cat.png", ContentType: "image/png", Size: 3}, []byte{1, 2, 3}, "/image/current")
	require.NoError(t, err)

	assert.Equal(t, "/image/current", sink.imageURL)
	require.Len(t, sink.tags, 2)
	assert.Equal(t, Notification{Kind: Success, Message: "Image analyzed successfully!"}, sink.notifications[0])
}

func TestUploadServerMessageSurfaced(t *testing.T) {
	sink := &recordingSink{}
	api := &fakeAPI{err: &tagapi.ServerError{Op: "upload image", Status: 400, Message: "Unsupported image format"}}
	_ = newPanel(api).UploadFile(context.Background(), sink,
		FileInfo{Name: "x.heic", ContentType: "image/heic", Size: 3}, []byte{1}, "")

	require.Len(t, sink.notifications, 1)
	assert.Equal(t, Failure, sink.notifications[0].Kind)
	assert.Equal(t, "Unsupported image format", sink.notifications[0].Message)
	assert.Empty(t, sink.imageURL)
}

func TestUploadNetworkFallbackMessage(t *testing.T) {
	sink := &recordingSink{}
	api := &fakeAPI{err: &tagapi.NetworkError{Op: "upload image", Err: errors.New("dial tcp: refused")}}
	_ = newPanel(api).UploadFile(context.Background(), sink,
		FileInfo{Name: "x.png", ContentType: "image/png", Size: 3}, []byte{1}, "")
	assert.Equal(t, "Failed to analyze image", sink.notifications[0].Message)
}

func TestAnalyzeSampleReplacesTags(t *testing.T) {
	api := &fakeAPI{tags: map[int][]tagapi.Tag{
		1: {{Name: "strawberry", Confidence: 95, IsPrimary: true}},
		2: {{Name: "city", Confidence: 70}, {Name: "street", Confidence: 50}},
	}}
	samples := []tagapi.SampleImage{
		{ID: 1, Filename: "strawberry.jpg", ImageURL: "backend/strawberry.jpg"},
		{ID: 2, Filename: "urban.jpg", ImageURL: "backend/urban.jpg"},
	}
	sink := &recordingSink{tags: []tagapi.Tag{{Name: "previous"}}}
	p := newPanel(api)

	require.NoError(t, p.AnalyzeSample(context.Background(), sink, samples[1]))
	assert.Equal(t, []int{2}, api.analyzes)
	assert.Equal(t, api.tags[2], sink.tags)
	assert.Equal(t, "http://backend/urban.jpg", sink.imageURL)
	assert.Equal(t, "Analyzed sample: urban.jpg", sink.notifications[0].Message)
	assert.Equal(t, []bool{true, false}, sink.transitions)
}

func TestAnalyzeSampleFailure(t *testing.T) {
	sink := &recordingSink{}
	err := newPanel(&fakeAPI{err: errors.New("boom")}).AnalyzeSample(context.Background(), sink, tagapi.SampleImage{ID: 3, ImageURL: "backend/x.jpg"})
	require.Error(t, err)
	assert.Equal(t, "Failed to analyze sample image", sink.notifications[0].Message)
	assert.Equal(t, []bool{true, false}, sink.transitions)
}

func TestAnalyzeSampleWithoutImageURL(t *testing.T) {
	api := &fakeAPI{tags: map[int][]tagapi.Tag{2: {{Name: "city", Confidence: 70}}}}
	sink := &recordingSink{}

	err := newPanel(api).AnalyzeSample(context.Background(), sink, tagapi.SampleImage{ID: 2, Filename: "urban.jpg"})
	require.ErrorIs(t, err, ErrNoSampleImage)
	assert.Empty(t, api.analyzes, "no backend call")
	assert.Nil(t, sink.tags, "nothing published")
	assert.Equal(t, "Failed to analyze sample image", sink.notifications[0].Message)
	assert.Equal(t, []bool{true, false}, sink.transitions)
}

func TestSamplesFailureIsEmpty(t *testing.T) {
	samples, err := newPanel(&fakeAPI{err: errors.New("down")}).Samples(context.Background())
	require.Error(t, err)
	assert.NotNil(t, samples)
	assert.Empty(t, samples)
}

func TestSampleDisplayHelpers(t *testing.T) {
	assert.Equal(t, "🍓", SampleEmoji("strawberry_field.jpg"))
	assert.Equal(t, "🌆", SampleEmoji("urban-night.png"))
	assert.Equal(t, "🍂", SampleEmoji("Autumn.jpg"))
	assert.Equal(t, "📷", SampleEmoji("dog.jpg"))

	assert.Equal(t, "strawberry", SampleLabel("strawberry_field.jpg"))
	assert.Equal(t, "urban", SampleLabel("urban.night.png"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "10.0 MB", FormatSize(MaxFileSize))
}
