// audio_meter prints a level meter and dominant frequency for the
// camera microphone.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/camkit/go-uvchost/cmd/internal/camera"
	"github.com/camkit/go-uvchost/pkg/transfers"
)

const samplesPerChunk = 1024

func main() {
	interval := flag.Duration("interval", 100*time.Millisecond, "meter refresh interval")
	flag.Parse()

	dev, cleanup, err := camera.Open(transfers.PixelFormatYUY2)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err := dev.StartAudio(); err != nil {
		log.Fatalf("starting audio: %v", err)
	}
	defer dev.StopAudio()

	format, err := dev.AudioFormat()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("microphone: %d Hz, %d ch, %d bit\n",
		format.SampleRate, format.Channels, format.BitsPerSample)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	chunk := make([]byte, samplesPerChunk*format.BytesPerFrame())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			fmt.Println()
			return
		case <-ticker.C:
		}

		n, err := dev.ReadAudio(chunk)
		if err != nil {
			log.Fatal(err)
		}
		if n < format.BytesPerFrame() {
			continue
		}
		samples := decodePCM(chunk[:n], format)
		rms, peakHz := analyze(samples, float64(format.SampleRate))
		fmt.Printf("\r[%-40s] %6.1f dB  %7.0f Hz", bar(rms), db(rms), peakHz)
	}
}

// decodePCM folds interleaved 16-bit channels into mono float samples.
func decodePCM(buf []byte, format transfers.AudioFormat) []float64 {
	frame := format.BytesPerFrame()
	if frame == 0 {
		return nil
	}
	out := make([]float64, 0, len(buf)/frame)
	for i := 0; i+frame <= len(buf); i += frame {
		var sum float64
		for c := 0; c < format.Channels; c++ {
			s := int16(binary.LittleEndian.Uint16(buf[i+c*2:]))
			sum += float64(s) / 32768
		}
		out = append(out, sum/float64(format.Channels))
	}
	return out
}

// analyze returns the RMS level and the dominant frequency bin.
func analyze(samples []float64, sampleRate float64) (rms, peakHz float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms = math.Sqrt(sum / float64(len(samples)))

	spectrum := fft.FFTReal(samples)
	peakBin := 0
	peakMag := 0.0
	for i := 1; i < len(spectrum)/2; i++ {
		if m := cmplx.Abs(spectrum[i]); m > peakMag {
			peakMag = m
			peakBin = i
		}
	}
	peakHz = float64(peakBin) * sampleRate / float64(len(samples))
	return rms, peakHz
}

func db(rms float64) float64 {
	if rms <= 0 {
		return -96
	}
	return 20 * math.Log10(rms)
}

func bar(rms float64) string {
	level := db(rms)
	n := int((level + 60) / 60 * 40)
	if n < 0 {
		n = 0
	}
	if n > 40 {
		n = 40
	}
	return strings.Repeat("=", n)
}
