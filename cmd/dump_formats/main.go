// dump_formats prints the video formats, frame sizes, and alternate
// settings a camera advertises. It reads descriptors either straight
// from sysfs or over the bus.
package main

import (
	"flag"
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/camkit/go-uvchost/cmd/internal/camera"
	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

func main() {
	sysfs := flag.String("sysfs", "", "read descriptors from a sysfs node (e.g. /sys/bus/usb/devices/1-4/descriptors) instead of the bus")
	flag.Parse()

	var raw []byte
	if *sysfs != "" {
		var err error
		raw, err = readSysfsDescriptors(*sysfs)
		if err != nil {
			log.Fatalf("reading %s: %v", *sysfs, err)
		}
	} else {
		var cleanup func()
		var err error
		raw, cleanup, err = camera.RawConfiguration()
		if err != nil {
			log.Fatal(err)
		}
		defer cleanup()
	}

	cfg, err := usbio.ParseConfiguration(raw)
	if err != nil {
		log.Fatal(err)
	}
	dump(cfg)
}

// readSysfsDescriptors pulls the descriptors file, which starts with
// the 18-byte device descriptor followed by the configuration.
func readSysfsDescriptors(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)
	buf := make([]byte, 64*1024)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return nil, err
	}
	buf = buf[:n]
	if len(buf) > 18 && buf[0] == 18 && buf[1] == 0x01 {
		buf = buf[18:]
	}
	return buf, nil
}

func dump(cfg *usbio.Configuration) {
	for _, alt := range cfg.Alts {
		if alt.Alternate == 0 {
			fmt.Printf("interface %d: class %#02x subclass %#02x\n", alt.Number, alt.Class, alt.SubClass)
		}
		for _, ep := range alt.Endpoints {
			kind := "bulk"
			if ep.IsIsochronous() {
				kind = "iso"
			}
			as := usbio.AltSetting{MaxPacketSize: ep.MaxPacketSize}
			fmt.Printf("  alt %d ep %#02x (%s): base %d x%d = %d bytes/uframe\n",
				alt.Alternate, ep.Address, kind, as.BasePacketSize(), as.Transactions(), as.TotalBandwidth())
		}
		if alt.Class != 0x0E || alt.SubClass != 0x02 || len(alt.Extra) == 0 {
			continue
		}
		for i := 0; i < len(alt.Extra); i += int(alt.Extra[i]) {
			l := int(alt.Extra[i])
			if l < 3 || i+l > len(alt.Extra) {
				break
			}
			desc, err := descriptors.UnmarshalStreamingInterface(alt.Extra[i : i+l])
			if err != nil {
				continue
			}
			switch d := desc.(type) {
			case *descriptors.UncompressedFormatDescriptor:
				fmt.Printf("  format %d: uncompressed, %d bpp, GUID % x\n",
					d.FormatIndex, d.BitsPerPixel, d.GUIDFormat[:4])
			case *descriptors.MJPEGFormatDescriptor:
				fmt.Printf("  format %d: MJPEG\n", d.FormatIndex)
			case *descriptors.UncompressedFrameDescriptor:
				fmt.Printf("    frame %d: %dx%d @ %d interval(s)\n",
					d.FrameIndex, d.Width, d.Height, len(d.DiscreteFrameIntervals))
			case *descriptors.MJPEGFrameDescriptor:
				fmt.Printf("    frame %d: %dx%d @ %d interval(s)\n",
					d.FrameIndex, d.Width, d.Height, len(d.DiscreteFrameIntervals))
			}
		}
	}
}
