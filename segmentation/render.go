package segmentation

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
)

// RenderTriptych draws the input image, the label mask and the prediction side
// by side.
func RenderTriptych(s Sample, pred []uint8) *image.RGBA {
	size := s.Size
	plane := size * size
	img := image.NewRGBA(image.Rect(0, 0, 3*size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(s.Image[i]),
				G: toByte(s.Image[plane+i]),
				B: toByte(s.Image[2*plane+i]),
				A: 255,
			})
			img.SetRGBA(size+x, y, ClassColor(s.Mask[i]))
			img.SetRGBA(2*size+x, y, ClassColor(pred[i]))
		}
	}
	return img
}

func toByte(v float32) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, float64(v))) * 255))
}

// SavePNG encodes img and atomically writes it to path, creating the parent
// directory if needed.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create image directory")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return checkpoints.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
