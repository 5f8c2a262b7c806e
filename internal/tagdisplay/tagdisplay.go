// Package tagdisplay maps tags and analytics entries to their visual
// treatment. Everything here is a pure function of its input.
package tagdisplay

import (
	"fmt"

	"github.com/drummonds/tagview/internal/tagapi"
)

type Tier int

const (
	TierLow Tier = iota
	TierMaybe
	TierSure
	TierVerySure
)

// TierFor buckets a 0-100 confidence score. Boundaries are exclusive:
// exactly 80 is Sure, not VerySure.
func TierFor(confidence float64) Tier {
	switch {
	case confidence > 80:
		return TierVerySure
	case confidence > 60:
		return TierSure
	case confidence > 40:
		return TierMaybe
	default:
		return TierLow
	}
}

func (t Tier) Label() string {
	switch t {
	case TierVerySure:
		return "very sure"
	case TierSure:
		return "sure"
	case TierMaybe:
		return "maybe"
	default:
		return "low confidence"
	}
}

func (t Tier) Icon() string {
	switch t {
	case TierVerySure:
		return "✅"
	case TierSure:
		return "👍"
	case TierMaybe:
		return "🤔"
	default:
		return "⚠️"
	}
}

func (t Tier) SizeClass() string {
	switch t {
	case TierVerySure:
		return "text-lg px-4 py-3 rounded-xl"
	case TierSure:
		return "text-base px-4 py-2.5 rounded-lg"
	case TierMaybe:
		return "text-sm px-3 py-2 rounded-md"
	default:
		return "text-xs px-3 py-1.5 rounded"
	}
}

func (t Tier) ColorClass() string {
	switch t {
	case TierVerySure:
		return "bg-gradient-to-r from-green-500 to-emerald-500 text-white border-green-600"
	case TierSure:
		return "bg-gradient-to-r from-blue-500 to-cyan-500 text-white border-blue-600"
	case TierMaybe:
		return "bg-gradient-to-r from-yellow-400 to-orange-400 text-gray-800 border-yellow-500"
	default:
		return "bg-gradient-to-r from-gray-300 to-gray-400 text-gray-700 border-gray-400"
	}
}

const primaryColorClass = "bg-gradient-to-r from-purple-500 to-pink-500 text-white border-purple-600"

// View is one tag ready for the template.
type View struct {
	Name       string
	Confidence float64
	Primary    bool
	Tier       Tier
	SizeClass  string
	ColorClass string
	Title      string
}

// Render keeps input order. Primary tags take the primary color whatever
// their tier; size still follows the tier.
func Render(tags []tagapi.Tag) []View {
	views := make([]View, 0, len(tags))
	for _, tag := range tags {
		tier := TierFor(tag.Confidence)
		v := View{
			Name:       tag.Name,
			Confidence: tag.Confidence,
			Primary:    tag.IsPrimary,
			Tier:       tier,
			SizeClass:  tier.SizeClass(),
			ColorClass: tier.ColorClass(),
			Title:      fmt.Sprintf("Confidence: %.1f%% - %s", tag.Confidence, tier.Label()),
		}
		if tag.IsPrimary {
			v.ColorClass = primaryColorClass
		}
		views = append(views, v)
	}
	return views
}

// BubbleSize sizes an analytics bubble by the share of images carrying
// the tag.
func BubbleSize(percentage float64) string {
	switch {
	case percentage > 70:
		return "w-20 h-20 text-lg"
	case percentage > 50:
		return "w-16 h-16 text-base"
	case percentage > 30:
		return "w-14 h-14 text-sm"
	case percentage > 15:
		return "w-12 h-12 text-xs"
	default:
		return "w-10 h-10 text-xs"
	}
}

var bubbleColors = []string{
	"bg-gradient-to-br from-purple-500 to-pink-500",
	"bg-gradient-to-br from-blue-500 to-cyan-500",
	"bg-gradient-to-br from-green-500 to-emerald-500",
	"bg-gradient-to-br from-orange-500 to-red-500",
	"bg-gradient-to-br from-indigo-500 to-purple-600",
}

func BubbleColor(index int) string {
	if index < 0 {
		index = -index
	}
	return bubbleColors[index%len(bubbleColors)]
}
