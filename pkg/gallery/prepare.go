package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// ErrUndecodableSample is returned when a sample is not a supported image.
var ErrUndecodableSample = errors.New("sample is not a decodable image")

// PrepareSample turns raw sample bytes into a JPEG the dlib engine accepts.
// Samples whose longest side exceeds maxDim are downscaled; maxDim <= 0
// disables scaling. JPEG input within bounds is returned unchanged.
func PrepareSample(data []byte, maxDim int) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableSample, err)
	}

	tooLarge := maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim)
	if format == "jpeg" && !tooLarge {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableSample, err)
	}

	if tooLarge {
		img = downscale(img, maxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("failed to re-encode sample: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale fits img inside a maxDim x maxDim box, keeping the aspect ratio.
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
