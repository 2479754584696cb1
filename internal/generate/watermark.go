package generate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// watermarkText is the visible sample overlay. Previews always carry
// it; final deliverables never do.
const watermarkText = "WATERMARKED SAMPLE"

// watermarkRed matches the overlay color of the original samples.
var watermarkRed = color.RGBA{R: 255, A: 255}

// Stamp decodes an image, draws the watermark text across it in
// repeated bands, and re-encodes it as JPEG. Band spacing scales with
// the image height so small thumbnails and full renders both end up
// visibly marked.
func Stamp(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image for watermark: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, watermarkText).Ceil()

	bandGap := bounds.Dy() / 4
	if bandGap < face.Height*2 {
		bandGap = face.Height * 2
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(watermarkRed),
		Face: face,
	}

	// Stagger each band horizontally so crops cannot easily avoid the
	// overlay.
	offset := 0
	for y := bounds.Min.Y + face.Height; y < bounds.Max.Y; y += bandGap {
		for x := bounds.Min.X - offset; x < bounds.Max.X; x += textWidth + face.Height {
			d.Dot = fixed.P(x, y)
			d.DrawString(watermarkText)
		}
		offset = (offset + textWidth/3) % (textWidth + face.Height)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode watermarked image: %w", err)
	}
	return buf.Bytes(), nil
}
