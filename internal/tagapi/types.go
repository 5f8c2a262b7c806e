package tagapi

// Tag is a label the backend assigned to an image.
type Tag struct {
	Name       string  `json:"tag_name"`
	Confidence float64 `json:"confidence"`
	IsPrimary  bool    `json:"is_primary"`
}

// TagResult is the body returned by the upload and sample-analyze endpoints.
type TagResult struct {
	Tags []Tag `json:"tags"`
}

type SampleImage struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	ImageURL string `json:"image_url"`
}

type TopTag struct {
	TagName            string  `json:"tag_name"`
	PercentageOnImages float64 `json:"percentage_on_images"`
	AvgConfidence      float64 `json:"avg_confidence"`
}

// AnalyticsSummary is replaced wholesale on every refresh.
type AnalyticsSummary struct {
	TotalImages     int      `json:"total_images"`
	AvgTagsPerImage float64  `json:"avg_tags_per_image"`
	TopTags         []TopTag `json:"top_tags"`
}

type ImageStats struct {
	TotalImages     int     `json:"total_images"`
	AvgTagsPerImage float64 `json:"avg_tags_per_image"`
}

// UploadOptions are sent as query parameters on upload.
type UploadOptions struct {
	ConfidenceThreshold float64
	Language            string
}

type AnalyticsOptions struct {
	Limit         int
	MinConfidence float64
}

const (
	DefaultConfidenceThreshold = 30.0
	DefaultLanguage            = "en"
	DefaultAnalyticsLimit      = 5
)

func DefaultUploadOptions() UploadOptions {
	return UploadOptions{ConfidenceThreshold: DefaultConfidenceThreshold, Language: DefaultLanguage}
}

func DefaultAnalyticsOptions() AnalyticsOptions {
	return AnalyticsOptions{Limit: DefaultAnalyticsLimit, MinConfidence: DefaultConfidenceThreshold}
}
