// Package upload validates user-selected images and sample choices,
// sends them to the tagging backend, and reports the outcome through a
// Sink.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/tagapi"
)

// API is the subset of the backend client the panel needs.
type API interface {
	UploadImage(ctx context.Context, filename, contentType string, data []byte, opts tagapi.UploadOptions) (*tagapi.TagResult, error)
	GetSampleImages(ctx context.Context) ([]tagapi.SampleImage, error)
	AnalyzeSampleImage(ctx context.Context, id int, confidenceThreshold float64) (*tagapi.TagResult, error)
	SampleImageURL(s tagapi.SampleImage) string
}

type NotificationKind int

const (
	Success NotificationKind = iota
	Failure
)

type Notification struct {
	Kind    NotificationKind
	Message string
}

// Result is published on success. Data is set for user uploads and nil for
// samples, which the browser loads from URL.
type Result struct {
	ImageURL    string
	ImageName   string
	ContentType string
	Data        []byte
	Tags        []tagapi.Tag
}

// Sink receives the panel's outcomes. SetLoading(true) and SetLoading(false)
// are always called in pairs.
type Sink interface {
	SetLoading(loading bool)
	Publish(r Result)
	Notify(n Notification)
}

type Options struct {
	ConfidenceThreshold float64
	Language            string
}

type Panel struct {
	api    API
	opts   Options
	logger *zap.Logger
}

func NewPanel(api API, opts Options, logger *zap.Logger) *Panel {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = tagapi.DefaultConfidenceThreshold
	}
	if opts.Language == "" {
		opts.Language = tagapi.DefaultLanguage
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Panel{api: api, opts: opts, logger: logger}
}

// Check validates a selected file and reports a rejection through sink.
func (p *Panel) Check(sink Sink, f FileInfo) error {
	if err := Validate(f); err != nil {
		p.logger.Info("upload rejected", zap.String("file", f.Name), zap.String("reason", err.Error()))
		sink.Notify(Notification{Kind: Failure, Message: err.Error()})
		return err
	}
	return nil
}

// UploadFile validates and analyzes a user-selected file. imageURL is where
// the browser will find the image once published.
func (p *Panel) UploadFile(ctx context.Context, sink Sink, f FileInfo, data []byte, imageURL string) error {
	if err := p.Check(sink, f); err != nil {
		return err
	}

	sink.SetLoading(true)
	defer sink.SetLoading(false)

	res, err := p.api.UploadImage(ctx, f.Name, f.ContentType, data, tagapi.UploadOptions{
		ConfidenceThreshold: p.opts.ConfidenceThreshold,
		Language:            p.opts.Language,
	})
	if err != nil {
		p.logger.Error("upload failed", zap.String("file", f.Name), zap.Error(err))
		sink.Notify(Notification{Kind: Failure, Message: UserMessage(err, "Failed to analyze image")})
		return err
	}

	sink.Publish(Result{
		ImageURL:    imageURL,
		ImageName:   f.Name,
		ContentType: f.ContentType,
		Data:        data,
		Tags:        nonNil(res.Tags),
	})
	sink.Notify(Notification{Kind: Success, Message: "Image analyzed successfully!"})
	p.logger.Info("image analyzed", zap.String("file", f.Name), zap.Int("tags", len(res.Tags)))
	return nil
}

// ErrNoSampleImage means the backend listed a sample without an image URL.
// Its tags could not be shown next to an image, so it is not analyzed.
var ErrNoSampleImage = errors.New("sample has no image URL")

func (p *Panel) AnalyzeSample(ctx context.Context, sink Sink, s tagapi.SampleImage) error {
	sink.SetLoading(true)
	defer sink.SetLoading(false)

	imageURL := p.api.SampleImageURL(s)
	if imageURL == "" {
		p.logger.Warn("sample without image", zap.Int("sample_id", s.ID))
		sink.Notify(Notification{Kind: Failure, Message: "Failed to analyze sample image"})
		return fmt.Errorf("sample %d: %w", s.ID, ErrNoSampleImage)
	}

	res, err := p.api.AnalyzeSampleImage(ctx, s.ID, p.opts.ConfidenceThreshold)
	if err != nil {
		p.logger.Error("sample analysis failed", zap.Int("sample_id", s.ID), zap.Error(err))
		sink.Notify(Notification{Kind: Failure, Message: "Failed to analyze sample image"})
		return err
	}

	sink.Publish(Result{
		ImageURL:  imageURL,
		ImageName: s.Filename,
		Tags:      nonNil(res.Tags),
	})
	sink.Notify(Notification{Kind: Success, Message: "Analyzed sample: " + s.Filename})
	return nil
}

// Samples lists the backend's sample images. On failure the list is empty
// and the error is returned for the caller to report.
func (p *Panel) Samples(ctx context.Context) ([]tagapi.SampleImage, error) {
	samples, err := p.api.GetSampleImages(ctx)
	if err != nil {
		p.logger.Warn("failed to load sample images", zap.Error(err))
		return []tagapi.SampleImage{}, fmt.Errorf("loading sample images: %w", err)
	}
	return samples, nil
}

// UserMessage is the text shown for a failed call: the backend's own
// message when it sent one, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var se *tagapi.ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fallback
}

// SampleEmoji picks an icon for a sample from its filename.
func SampleEmoji(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "strawberry"):
		return "🍓"
	case strings.Contains(name, "urban"):
		return "🌆"
	case strings.Contains(name, "autumn"):
		return "🍂"
	default:
		return "📷"
	}
}

// SampleLabel is the filename up to its first dot, at most 10 runes.
func SampleLabel(filename string) string {
	base := path.Base(filename)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if utf8.RuneCountInString(base) > 10 {
		base = string([]rune(base)[:10])
	}
	return base
}

func nonNil(tags []tagapi.Tag) []tagapi.Tag {
	if tags == nil {
		return []tagapi.Tag{}
	}
	return tags
}
