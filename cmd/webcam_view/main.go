// webcam_view shows the live camera picture in an ebiten window.
package main

import (
	"flag"
	"image"
	"log"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	xdraw "golang.org/x/image/draw"

	"github.com/camkit/go-uvchost/cmd/internal/camera"
	"github.com/camkit/go-uvchost/pkg/transfers"
)

const (
	windowWidth  = 960
	windowHeight = 540
)

type viewer struct {
	mu     sync.Mutex
	frame  *image.RGBA // camera frame at native size
	scaled *image.RGBA // scaled to the window
	canvas *ebiten.Image
}

func (v *viewer) Update() error { return nil }

func (v *viewer) Draw(screen *ebiten.Image) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frame == nil {
		return
	}
	if v.scaled == nil {
		v.scaled = image.NewRGBA(image.Rect(0, 0, windowWidth, windowHeight))
	}
	xdraw.ApproxBiLinear.Scale(v.scaled, v.scaled.Bounds(), v.frame, v.frame.Bounds(), xdraw.Src, nil)
	if v.canvas == nil {
		v.canvas = ebiten.NewImage(windowWidth, windowHeight)
	}
	v.canvas.WritePixels(v.scaled.Pix)
	screen.DrawImage(v.canvas, nil)
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return windowWidth, windowHeight
}

// setBGRA swaps the driver's BGRA output into the RGBA layout ebiten
// wants.
func (v *viewer) setBGRA(bgra []byte, w, h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frame == nil || v.frame.Bounds().Dx() != w || v.frame.Bounds().Dy() != h {
		v.frame = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	pix := v.frame.Pix
	for i := 0; i+3 < len(bgra) && i+3 < len(pix); i += 4 {
		pix[i] = bgra[i+2]
		pix[i+1] = bgra[i+1]
		pix[i+2] = bgra[i]
		pix[i+3] = bgra[i+3]
	}
}

func main() {
	useMJPEG := flag.Bool("mjpeg", false, "stream MJPEG instead of YUY2")
	flag.Parse()

	pf := transfers.PixelFormatYUY2
	if *useMJPEG {
		pf = transfers.PixelFormatMJPEG
	}

	dev, cleanup, err := camera.Open(pf)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err := dev.StartStream(); err != nil {
		log.Fatalf("starting stream: %v", err)
	}
	defer dev.StopStream()

	v := &viewer{}

	go func() {
		for {
			format := dev.Format()
			out := make([]byte, format.OutputFrameSize())
			if _, err := dev.FillFrame(out); err != nil {
				continue
			}
			v.setBGRA(out, int(format.Width), int(format.Height))
		}
	}()

	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle("webcam")
	if err := ebiten.RunGame(v); err != nil {
		log.Fatal(err)
	}
}
