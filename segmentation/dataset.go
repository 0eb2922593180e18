// Package segmentation provides a small, self-contained set of collaborators
// for the training orchestrator: a synthetic dataset, a data loader, a
// single-layer convolutional model, cross-entropy loss, Adam and SGD, mIoU
// scoring and mask rendering.
package segmentation

import (
	"hash/fnv"
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
)

// Channels is the number of input channels of every image.
const Channels = 3

// VoidLabel marks mask pixels that are ignored by the loss and the metrics.
const VoidLabel uint8 = 255

// Sample is one image and its label mask. Image is laid out [C, H, W] and Mask
// [H, W].
type Sample struct {
	Index int
	Size  int
	Image []float32
	Mask  []uint8
}

// Dataset yields samples by index.
type Dataset interface {
	Len() int
	Get(idx int) (Sample, error)
}

var palette = []color.RGBA{
	{R: 40, G: 40, B: 40, A: 255},
	{R: 220, G: 20, B: 60, A: 255},
	{R: 0, G: 170, B: 0, A: 255},
	{R: 30, G: 80, B: 220, A: 255},
	{R: 240, G: 200, B: 0, A: 255},
	{R: 200, G: 0, B: 200, A: 255},
	{R: 0, G: 200, B: 200, A: 255},
	{R: 255, G: 128, B: 0, A: 255},
}

// VoidColor is the rendering color of VoidLabel.
var VoidColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// ClassColor returns the color class k is drawn with.
func ClassColor(k uint8) color.RGBA {
	if k == VoidLabel {
		return VoidColor
	}
	if int(k) < len(palette) {
		return palette[k]
	}
	return color.RGBA{R: k * 53, G: k * 97, B: k * 151, A: 255}
}

// SyntheticConfig describes a synthetic split.
type SyntheticConfig struct {
	Split      string
	Samples    int
	Size       int
	NumClasses int
	Seed       int64
	Noise      float64
}

// SyntheticDataset draws rectangles and discs of foreground classes on a
// background of class 0, surrounded by a one pixel void frame. A sample is a
// pure function of the seed, the split and its index.
type SyntheticDataset struct {
	cfg  SyntheticConfig
	salt int64
}

// NewSyntheticDataset creates a synthetic split.
func NewSyntheticDataset(cfg SyntheticConfig) *SyntheticDataset {
	if cfg.Noise == 0 {
		cfg.Noise = 0.05
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(cfg.Split))
	return &SyntheticDataset{cfg: cfg, salt: int64(h.Sum64() >> 1)}
}

// Len returns the number of samples.
func (d *SyntheticDataset) Len() int {
	return d.cfg.Samples
}

// NumClasses returns the number of classes, void excluded.
func (d *SyntheticDataset) NumClasses() int {
	return d.cfg.NumClasses
}

// Get renders sample idx.
func (d *SyntheticDataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= d.cfg.Samples {
		return Sample{}, errors.Errorf("sample index %d out of range [0, %d)", idx, d.cfg.Samples)
	}
	size := d.cfg.Size
	rng := rand.New(rand.NewSource(d.cfg.Seed*1_000_003 + d.salt + int64(idx)*7919)) // #nosec G404

	mask := make([]uint8, size*size)
	shapes := 1 + rng.Intn(3)
	for s := 0; s < shapes; s++ {
		class := uint8(1 + rng.Intn(d.cfg.NumClasses-1))
		if rng.Intn(2) == 0 {
			w := size/6 + rng.Intn(size/3+1)
			h := size/6 + rng.Intn(size/3+1)
			x0 := rng.Intn(size)
			y0 := rng.Intn(size)
			for y := y0; y < y0+h && y < size; y++ {
				for x := x0; x < x0+w && x < size; x++ {
					mask[y*size+x] = class
				}
			}
		} else {
			r := size/8 + rng.Intn(size/8+1)
			cx := rng.Intn(size)
			cy := rng.Intn(size)
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r {
						mask[y*size+x] = class
					}
				}
			}
		}
	}

	image := make([]float32, Channels*size*size)
	plane := size * size
	for i, k := range mask {
		c := ClassColor(k)
		rgb := [Channels]uint8{c.R, c.G, c.B}
		for ch := 0; ch < Channels; ch++ {
			image[ch*plane+i] = float32(float64(rgb[ch])/255 + rng.NormFloat64()*d.cfg.Noise)
		}
	}

	for i := 0; i < size; i++ {
		mask[i] = VoidLabel
		mask[(size-1)*size+i] = VoidLabel
		mask[i*size] = VoidLabel
		mask[i*size+size-1] = VoidLabel
	}

	return Sample{Index: idx, Size: size, Image: image, Mask: mask}, nil
}
