// sdl_view shows the live camera picture in an SDL window. The BGRA
// output maps straight onto an ARGB8888 streaming texture.
package main

import (
	"flag"
	"log"
	"runtime"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/camkit/go-uvchost/cmd/internal/camera"
	"github.com/camkit/go-uvchost/pkg/transfers"
)

func main() {
	runtime.LockOSThread() // SDL wants the main thread

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

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		log.Fatal(err)
	}
	defer sdl.Quit()

	format := dev.Format()
	w, h := int32(format.Width), int32(format.Height)

	window, err := sdl.CreateWindow("webcam", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		w, h, sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		log.Fatal(err)
	}
	defer window.Destroy()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		log.Fatal(err)
	}
	defer renderer.Destroy()

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, w, h)
	if err != nil {
		log.Fatal(err)
	}
	defer texture.Destroy()

	out := make([]byte, format.OutputFrameSize())
	running := true
	for running {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch event.(type) {
			case *sdl.QuitEvent:
				running = false
			}
		}

		if _, err := dev.FillFrame(out); err != nil {
			continue
		}
		if err := texture.Update(nil, unsafe.Pointer(&out[0]), int(w)*4); err != nil {
			log.Printf("texture update: %v", err)
			continue
		}
		renderer.Clear()
		renderer.Copy(texture, nil, nil)
		renderer.Present()
	}
}
