//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const gocvAvailable = true

// gocvDriver captures from a host webcam through OpenCV and converts each
// frame to the configured pixel format.
type gocvDriver struct {
	logger *slog.Logger

	mu    sync.Mutex
	cfg   Config
	cap   *gocv.VideoCapture
	mat   gocv.Mat
	pool  [][]byte
	inUse []bool
}

func newGoCVDriver(logger *slog.Logger) (Driver, error) {
	return &gocvDriver{logger: logger}, nil
}

func (d *gocvDriver) Init(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return fmt.Errorf("open device %d: %w", cfg.Device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width()))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height()))

	d.cfg = cfg
	d.cap = vc
	d.mat = gocv.NewMat()
	d.pool = make([][]byte, cfg.FBCount)
	d.inUse = make([]bool, cfg.FBCount)

	d.logger.Info("opencv capture opened", "device", cfg.Device,
		"width", cfg.Width(), "height", cfg.Height())
	return nil
}

func (d *gocvDriver) Get(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil, ErrNotConfigured
	}

	slot := -1
	for i, used := range d.inUse {
		if !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrNoFrame
	}

	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, ErrNoFrame
	}

	w, h := d.cfg.Width(), d.cfg.Height()
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(d.mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	data, err := d.convert(resized, d.pool[slot][:0])
	if err != nil {
		return nil, err
	}
	d.pool[slot] = data
	d.inUse[slot] = true

	return &Frame{
		Data:       data,
		Width:      w,
		Height:     h,
		Format:     d.cfg.PixelFormat,
		CapturedAt: time.Now(),
		slot:       slot,
	}, nil
}

func (d *gocvDriver) convert(src gocv.Mat, buf []byte) ([]byte, error) {
	switch d.cfg.PixelFormat {
	case PixelGrayscale:
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
		return append(buf, gray.ToBytes()...), nil

	case PixelRGB565:
		// OpenCV's BGR565 is the little-endian RGB565 layout the sensor emits.
		out := gocv.NewMat()
		defer out.Close()
		gocv.CvtColor(src, &out, gocv.ColorBGRToBGR565)
		return append(buf, out.ToBytes()...), nil

	case PixelYUV422:
		// OpenCV has no packed 4:2:2 encoder; pack YUYV from full YUV.
		yuv := gocv.NewMat()
		defer yuv.Close()
		gocv.CvtColor(src, &yuv, gocv.ColorBGRToYUV)
		full := yuv.ToBytes()
		for i := 0; i+5 < len(full); i += 6 {
			buf = append(buf, full[i], full[i+1], full[i+3], full[i+2])
		}
		return buf, nil

	case PixelJPEG:
		q := 100 - d.cfg.JPEGQuality*99/63
		nb, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{gocv.IMWriteJpegQuality, q})
		if err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
		defer nb.Close()
		return append(buf, nb.GetBytes()...), nil
	}
	return nil, fmt.Errorf("unsupported pixel format %q", d.cfg.PixelFormat)
}

func (d *gocvDriver) Return(f *Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f == nil || f.slot < 0 || f.slot >= len(d.inUse) {
		return
	}
	d.inUse[f.slot] = false
}

func (d *gocvDriver) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil
	}
	d.mat.Close()
	err := d.cap.Close()
	d.cap = nil
	return err
}
