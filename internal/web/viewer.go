package web

// ViewerData drives the full-screen image overlay. A nil *ViewerData renders
// nothing.
type ViewerData struct {
	ImageURL string
	Alt      string
}

// Viewer returns the overlay for imageURL, or nil when there is no image.
func Viewer(imageURL, alt string) *ViewerData {
	if imageURL == "" {
		return nil
	}
	if alt == "" {
		alt = "Full size image"
	}
	return &ViewerData{ImageURL: imageURL, Alt: alt}
}
