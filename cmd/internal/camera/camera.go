// Package camera opens the first UVC camera on the bus and wires it to
// the driver core. This is tooling glue; applications embedding the
// driver do their own enumeration and hot-plug handling.
package camera

import (
	"fmt"

	usb "github.com/kevmo314/go-usb"

	uvchost "github.com/camkit/go-uvchost"
	"github.com/camkit/go-uvchost/pkg/transfers"
	"github.com/camkit/go-uvchost/pkg/usbio"
)

// Open scans the bus for a device exposing a Video Control interface
// and returns a ready Device plus a cleanup function.
func Open(pixelFormat transfers.PixelFormat) (*uvchost.Device, func(), error) {
	ctx, err := usb.NewContext()
	if err != nil {
		return nil, nil, err
	}
	devices, err := ctx.GetDeviceList()
	if err != nil {
		ctx.Close()
		return nil, nil, err
	}
	for _, dev := range devices {
		handle, err := dev.Open()
		if err != nil {
			continue
		}
		h := usbio.NewGoUSBHandle(handle)
		raw, err := usbio.FetchConfiguration(h)
		if err != nil {
			handle.Close()
			continue
		}
		d, err := uvchost.OpenDevice(h, raw, pixelFormat, uvchost.LoadConfig())
		if err != nil {
			handle.Close()
			continue
		}
		cleanup := func() {
			d.Disconnect()
			handle.Close()
			ctx.Close()
		}
		return d, cleanup, nil
	}
	ctx.Close()
	return nil, nil, fmt.Errorf("no UVC camera found on the bus")
}

// RawConfiguration fetches the active configuration descriptor of the
// first camera, for inspection tools that only read descriptors.
func RawConfiguration() ([]byte, func(), error) {
	ctx, err := usb.NewContext()
	if err != nil {
		return nil, nil, err
	}
	devices, err := ctx.GetDeviceList()
	if err != nil {
		ctx.Close()
		return nil, nil, err
	}
	for _, dev := range devices {
		handle, err := dev.Open()
		if err != nil {
			continue
		}
		h := usbio.NewGoUSBHandle(handle)
		raw, err := usbio.FetchConfiguration(h)
		if err != nil {
			handle.Close()
			continue
		}
		cfg, err := usbio.ParseConfiguration(raw)
		if err != nil || cfg.FindInterface(0x0E, 0x01) == nil {
			handle.Close()
			continue
		}
		cleanup := func() {
			handle.Close()
			ctx.Close()
		}
		return raw, cleanup, nil
	}
	ctx.Close()
	return nil, nil, fmt.Errorf("no UVC camera found on the bus")
}
