package analytics

import (
	"errors"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/drummonds/tagview/internal/tagapi"
)

var ErrNoData = errors.New("no top tags to chart")

// bar colors follow the bubble palette of the page.
var barColors = []drawing.Color{
	drawing.ColorFromHex("a855f7"),
	drawing.ColorFromHex("3b82f6"),
	drawing.ColorFromHex("22c55e"),
	drawing.ColorFromHex("f97316"),
	drawing.ColorFromHex("6366f1"),
}

const (
	barWidth   = 60
	barSpacing = 30
)

// Chart renders the share of images carrying each top tag as a PNG bar
// chart.
func Chart(summary *tagapi.AnalyticsSummary, w io.Writer) error {
	if summary == nil || len(summary.TopTags) == 0 {
		return ErrNoData
	}

	bars := make([]chart.Value, 0, len(summary.TopTags))
	for i, t := range summary.TopTags {
		c := barColors[i%len(barColors)]
		bars = append(bars, chart.Value{
			Label: t.TagName,
			Value: t.PercentageOnImages,
			Style: chart.Style{FillColor: c, StrokeColor: c, StrokeWidth: 1},
		})
	}

	graph := chart.BarChart{
		Title:      "Share of images per tag (%)",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		Width:      120 + len(bars)*(barWidth+barSpacing),
		Height:     320,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}
