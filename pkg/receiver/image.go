package receiver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/bmp"
)

// maxDecodePixels bounds JPEG frames, whose dimensions come from the
// sender rather than the configuration.
const maxDecodePixels = 1 << 24

// Decode turns a payload into an image. Short raw payloads are padded with
// black so a truncated frame still renders.
func Decode(data []byte, width, height int, format string) (image.Image, error) {
	switch format {
	case "grayscale":
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, data)
		return img, nil

	case "rgb565":
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < width*height && 2*i+1 < len(data); i++ {
			img.Pix[4*i+0], img.Pix[4*i+1], img.Pix[4*i+2] = rgb565(binary.LittleEndian.Uint16(data[2*i:]))
			img.Pix[4*i+3] = 0xff
		}
		fillAlpha(img, len(data)/2)
		return img, nil

	case "yuv422":
		// Packed YUYV: two pixels share one U and one V.
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i+1 < width*height && 2*i+3 < len(data); i += 2 {
			y0, u, y1, v := data[2*i], data[2*i+1], data[2*i+2], data[2*i+3]
			r, g, b := color.YCbCrToRGB(y0, u, v)
			img.Pix[4*i+0], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = r, g, b, 0xff
			r, g, b = color.YCbCrToRGB(y1, u, v)
			img.Pix[4*i+4], img.Pix[4*i+5], img.Pix[4*i+6], img.Pix[4*i+7] = r, g, b, 0xff
		}
		fillAlpha(img, len(data)/2)
		return img, nil

	case "jpeg":
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("receiver: decode jpeg: %w", err)
		}
		if cfg.Width*cfg.Height > maxDecodePixels {
			return nil, fmt.Errorf("receiver: jpeg of %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxDecodePixels)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("receiver: decode jpeg: %w", err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("receiver: unknown format %q", format)
}

// rgb565 expands one pixel to 8 bits per channel.
func rgb565(p uint16) (r, g, b uint8) {
	r = uint8((p>>11)&0x1f) << 3
	g = uint8((p>>5)&0x3f) << 2
	b = uint8(p&0x1f) << 3
	return r, g, b
}

// fillAlpha makes pixels from index from onward opaque black.
func fillAlpha(img *image.RGBA, from int) {
	for i := from * 4; i+3 < len(img.Pix); i += 4 {
		img.Pix[i+3] = 0xff
	}
}

// EncodeBMP writes img as BMP. Gray images become 8-bit paletted files.
func EncodeBMP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("receiver: encode bmp: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePreview writes img as JPEG for the dashboard.
func EncodePreview(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("receiver: encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
