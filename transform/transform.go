package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/h2non/bimg"
)

const (
	DefaultPixelateBlock = 8
	DefaultBlurRadius    = 2.0
	jackalQuality        = 1
)

// Result of a transform: either an image or a text, never both.
type Result struct {
	Image image.Image
	Text  string
}

func (r Result) IsText() bool {
	return r.Image == nil
}

func ImageResult(img image.Image) Result { return Result{Image: img} }

func TextResult(text string) Result { return Result{Text: text} }

type Func func(img image.Image) (Result, error)

// Bind partially applies base to p, so parameterised commands are plain Funcs.
func Bind[P any](base func(image.Image, P) (Result, error), p P) Func {
	return func(img image.Image) (Result, error) {
		return base(img, p)
	}
}

type Size struct {
	Width  int
	Height int
}

func Invert(img image.Image) (Result, error) {
	return ImageResult(imaging.Invert(img)), nil
}

func Gray(img image.Image) (Result, error) {
	return ImageResult(imaging.Grayscale(img)), nil
}

func InvertGray(img image.Image) (Result, error) {
	return ImageResult(imaging.Invert(imaging.Grayscale(img))), nil
}

// Pixelate averages the image over block x block squares.
func Pixelate(img image.Image, block int) (Result, error) {
	if block <= 0 {
		return Result{}, fmt.Errorf("pixelate: invalid block size %d", block)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return ImageResult(imaging.Clone(img)), nil
	}

	small := imaging.Resize(img, max(1, w/block), max(1, h/block), imaging.Box)
	return ImageResult(imaging.Resize(small, w, h, imaging.NearestNeighbor)), nil
}

func PixelateDefault(img image.Image) (Result, error) {
	return Pixelate(img, DefaultPixelateBlock)
}

// Thumbnail fits the image into size keeping the aspect ratio. Smaller
// images are returned unchanged.
func Thumbnail(img image.Image, size Size) (Result, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return Result{}, fmt.Errorf("thumbnail: invalid size %dx%d", size.Width, size.Height)
	}
	return ImageResult(imaging.Fit(img, size.Width, size.Height, imaging.Lanczos)), nil
}

func Blur(img image.Image, radius float64) (Result, error) {
	if radius <= 0 {
		return Result{}, fmt.Errorf("blur: invalid radius %v", radius)
	}
	return ImageResult(imaging.Blur(img, radius)), nil
}

func BlurDefault(img image.Image) (Result, error) {
	return Blur(img, DefaultBlurRadius)
}

// JackalJPG recompresses the image through libvips at the lowest JPEG quality.
func JackalJPG(img image.Image) (Result, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return Result{}, fmt.Errorf("jackal: encode: %w", err)
	}

	out, err := bimg.NewImage(buf.Bytes()).Process(bimg.Options{
		Type:    bimg.JPEG,
		Quality: jackalQuality,
	})
	if err != nil {
		return Result{}, fmt.Errorf("jackal: vips: %w", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		return Result{}, fmt.Errorf("jackal: decode: %w", err)
	}
	return ImageResult(decoded), nil
}

func ImageInfo(img image.Image) (Result, error) {
	b := img.Bounds()
	return TextResult(fmt.Sprintf("Size: %dx%d\nMode: %s", b.Dx(), b.Dy(), colorModelName(img))), nil
}

func Original(img image.Image) (Result, error) {
	return ImageResult(img), nil
}

func colorModelName(img image.Image) string {
	switch img.(type) {
	case *image.YCbCr:
		return "YCbCr"
	case *image.Gray, *image.Gray16:
		return "Gray"
	case *image.CMYK:
		return "CMYK"
	case *image.Paletted:
		return "Paletted"
	case *image.NRGBA, *image.NRGBA64:
		return "NRGBA"
	case *image.RGBA, *image.RGBA64:
		return "RGBA"
	}
	if img.ColorModel() == color.GrayModel {
		return "Gray"
	}
	return "RGBA"
}
