// Package analytics loads the backend's aggregate tag statistics and keeps
// the last good summary when a refresh fails.
package analytics

import (
	"context"

	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/tagapi"
)

type API interface {
	GetAnalytics(ctx context.Context, opts tagapi.AnalyticsOptions) (*tagapi.AnalyticsSummary, error)
}

// Sink receives the loading indicator and successful summaries. It is never
// handed nil, so a failed refresh leaves the displayed summary alone.
type Sink interface {
	SetAnalyticsLoading(loading bool)
	SetAnalytics(s *tagapi.AnalyticsSummary)
}

type Panel struct {
	api    API
	opts   tagapi.AnalyticsOptions
	logger *zap.Logger
}

func NewPanel(api API, opts tagapi.AnalyticsOptions, logger *zap.Logger) *Panel {
	def := tagapi.DefaultAnalyticsOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = def.MinConfidence
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Panel{api: api, opts: opts, logger: logger}
}

// Load is the first fetch for a session.
func (p *Panel) Load(ctx context.Context, sink Sink) error {
	return p.fetch(ctx, sink, "load")
}

// Refresh repeats the fetch on demand and replaces the summary wholesale.
func (p *Panel) Refresh(ctx context.Context, sink Sink) error {
	return p.fetch(ctx, sink, "refresh")
}

func (p *Panel) fetch(ctx context.Context, sink Sink, reason string) error {
	sink.SetAnalyticsLoading(true)
	defer sink.SetAnalyticsLoading(false)

	summary, err := p.api.GetAnalytics(ctx, p.opts)
	if err != nil {
		p.logger.Error("failed to load analytics", zap.String("reason", reason), zap.Error(err))
		return err
	}
	if summary.TopTags == nil {
		summary.TopTags = []tagapi.TopTag{}
	}
	sink.SetAnalytics(summary)
	p.logger.Debug("analytics loaded",
		zap.String("reason", reason),
		zap.Int("total_images", summary.TotalImages),
		zap.Int("top_tags", len(summary.TopTags)))
	return nil
}
