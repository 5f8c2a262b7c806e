package preview

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	info, err := Inspect(testPNG(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, Info{Width: 400, Height: 200, Format: "png", AspectRatio: 2}, info)

	_, err = Inspect([]byte("not an image"))
	assert.Error(t, err)
}

func TestResizeFitsBox(t *testing.T) {
	out, err := Resize(testPNG(t, 400, 200), 100)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestThumbnailerGenerates(t *testing.T) {
	th, err := NewThumbnailer(t.TempDir(), 64)
	require.NoError(t, err)

	path, err := th.Generate("sess", 1, "a.png", "image/png", testPNG(t, 128, 128))
	require.NoError(t, err)
	assert.True(t, th.Exists("sess", 1))

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = th.Generate("sess", 2, "b.png", "image/png", testPNG(t, 32, 32))
	require.NoError(t, err)
	th.Remove("sess", 2)
	assert.False(t, th.Exists("sess", 1))
	assert.True(t, th.Exists("sess", 2))

	th.Delete("sess", 2)
	assert.False(t, th.Exists("sess", 2))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", extension("x", "image/jpeg"))
	assert.Equal(t, ".tiff", extension("scan.TIFF", "image/tiff"))
	assert.Equal(t, ".img", extension("x", "image/x-unknown"))
}
