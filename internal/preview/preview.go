// Package preview inspects uploaded images and produces the small preview
// shown next to the upload area.
package preview

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	thumbnails "github.com/drummonds/go-thumbnails"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

// Info is what the preview pane shows under the image.
type Info struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Format      string  `json:"format"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Inspect reads only the image header.
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("reading image header: %w", err)
	}
	info := Info{Width: cfg.Width, Height: cfg.Height, Format: format}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	return info, nil
}

// Thumbnailer writes previews into a cache directory, one file per
// session and generation.
type Thumbnailer struct {
	dir  string
	size int
}

func NewThumbnailer(dir string, size int) (*Thumbnailer, error) {
	if size <= 0 {
		size = 600
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating thumbnail dir: %w", err)
	}
	return &Thumbnailer{dir: dir, size: size}, nil
}

func (t *Thumbnailer) Path(sessionID string, gen uint64) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s-%d.png", sessionID, gen))
}

func (t *Thumbnailer) Exists(sessionID string, gen uint64) bool {
	_, err := os.Stat(t.Path(sessionID, gen))
	return err == nil
}

// Generate renders the preview with go-thumbnails and falls back to a
// plain imaging resize for formats it does not handle.
func (t *Thumbnailer) Generate(sessionID string, gen uint64, name, contentType string, data []byte) (string, error) {
	out := t.Path(sessionID, gen)
	if t.Exists(sessionID, gen) {
		return out, nil
	}

	tmp, err := os.CreateTemp("", "tagview-preview-*"+extension(name, contentType))
	if err != nil {
		return "", fmt.Errorf("preview temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("preview write: %w", err)
	}
	tmp.Close()

	err = thumbnails.GenerateStyledAndSave(tmpPath, out, t.size, thumbnails.StyleUniform)
	if err == nil {
		return out, nil
	}
	zap.L().Debug("go-thumbnails failed, resizing directly", zap.String("file", name), zap.Error(err))

	b, err := Resize(data, t.size)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, b, 0644); err != nil {
		return "", fmt.Errorf("preview save: %w", err)
	}
	return out, nil
}

// Delete drops the preview of one generation.
func (t *Thumbnailer) Delete(sessionID string, gen uint64) {
	os.Remove(t.Path(sessionID, gen))
}

// Remove drops all previews of a session except the given generation.
func (t *Thumbnailer) Remove(sessionID string, keep uint64) {
	matches, _ := filepath.Glob(filepath.Join(t.dir, sessionID+"-*.png"))
	for _, m := range matches {
		if m != t.Path(sessionID, keep) {
			os.Remove(m)
		}
	}
}

// Resize fits the image inside size x size and encodes it as PNG. EXIF
// orientation is applied first.
func Resize(data []byte, size int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	img = imaging.Fit(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}

func extension(name, contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if ext := filepath.Ext(name); ext != "" {
		return strings.ToLower(ext)
	}
	return ".img"
}
