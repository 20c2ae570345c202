// inspect shows a camera's descriptor tree, including the
// processing-unit controls it advertises, in a terminal UI.
package main

import (
	"fmt"
	"log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/camkit/go-uvchost/pkg/descriptors"
	"github.com/camkit/go-uvchost/pkg/usbio"

	"github.com/camkit/go-uvchost/cmd/internal/camera"
)

func main() {
	raw, cleanup, err := camera.RawConfiguration()
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	cfg, err := usbio.ParseConfiguration(raw)
	if err != nil {
		log.Fatal(err)
	}

	root := tview.NewTreeNode("configuration").SetColor(tcell.ColorYellow)
	for i := range cfg.Alts {
		root.AddChild(interfaceNode(&cfg.Alts[i]))
	}

	tree := tview.NewTreeView().SetRoot(root).SetCurrentNode(root)
	tree.SetBorder(true).SetTitle(" descriptors (q to quit) ")

	app := tview.NewApplication()
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})
	if err := app.SetRoot(tree, true).Run(); err != nil {
		log.Fatal(err)
	}
}

func interfaceNode(alt *usbio.InterfaceAlt) *tview.TreeNode {
	label := fmt.Sprintf("interface %d alt %d (class %#02x/%#02x)",
		alt.Number, alt.Alternate, alt.Class, alt.SubClass)
	node := tview.NewTreeNode(label).SetColor(tcell.ColorGreen)

	for _, ep := range alt.Endpoints {
		as := usbio.AltSetting{MaxPacketSize: ep.MaxPacketSize}
		node.AddChild(tview.NewTreeNode(fmt.Sprintf(
			"endpoint %#02x: %d bytes/uframe (x%d)",
			ep.Address, as.TotalBandwidth(), as.Transactions())))
	}

	for i := 0; i < len(alt.Extra); i += int(alt.Extra[i]) {
		l := int(alt.Extra[i])
		if l < 3 || i+l > len(alt.Extra) {
			break
		}
		block := alt.Extra[i : i+l]
		if child := classSpecificNode(alt, block); child != nil {
			node.AddChild(child)
		}
	}
	return node
}

func classSpecificNode(alt *usbio.InterfaceAlt, block []byte) *tview.TreeNode {
	switch {
	case alt.Class == 0x0E && alt.SubClass == 0x01:
		desc, err := descriptors.UnmarshalControlInterface(block)
		if err != nil {
			return nil
		}
		switch d := desc.(type) {
		case *descriptors.HeaderDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("VC header: UVC %d.%02d, streams %v",
				d.UVC.Major(), d.UVC.Minor(), d.VideoStreamingInterfaceIndexes))
		case *descriptors.InputTerminalDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("input terminal %d (type %#04x)", d.TerminalID, uint16(d.TerminalType)))
		case *descriptors.OutputTerminalDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("output terminal %d", d.TerminalID))
		case *descriptors.ProcessingUnitDescriptor:
			node := tview.NewTreeNode(fmt.Sprintf("processing unit %d", d.UnitID)).SetColor(tcell.ColorAqua)
			for _, pc := range descriptors.PUControls {
				if d.HasControl(pc.FeatureBit) {
					node.AddChild(tview.NewTreeNode(pc.Name))
				}
			}
			return node
		case *descriptors.ExtensionUnitDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("extension unit %d (%d controls)", d.UnitID, d.NumControls))
		case *descriptors.SelectorUnitDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("selector unit %d", d.UnitID))
		}
	case alt.Class == 0x0E && alt.SubClass == 0x02:
		desc, err := descriptors.UnmarshalStreamingInterface(block)
		if err != nil {
			return nil
		}
		switch d := desc.(type) {
		case *descriptors.InputHeaderDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("VS input header: endpoint %#02x", d.EndpointAddress))
		case *descriptors.UncompressedFormatDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("format %d: uncompressed %d bpp", d.FormatIndex, d.BitsPerPixel))
		case *descriptors.MJPEGFormatDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("format %d: MJPEG", d.FormatIndex))
		case *descriptors.UncompressedFrameDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("frame %d: %dx%d", d.FrameIndex, d.Width, d.Height))
		case *descriptors.MJPEGFrameDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("frame %d: %dx%d", d.FrameIndex, d.Width, d.Height))
		case *descriptors.ColorMatchingDescriptor:
			return tview.NewTreeNode(fmt.Sprintf("color matching: primaries %d", d.ColorPrimaries))
		}
	case alt.Class == 0x01:
		if descriptors.ClassSpecificDescriptorType(block[1]) != descriptors.ClassSpecificDescriptorTypeInterface {
			return nil
		}
		if descriptors.AudioStreamingInterfaceDescriptorSubtype(block[2]) == descriptors.AudioStreamingInterfaceDescriptorSubtypeFormatType {
			f := &descriptors.AudioFormatTypeIDescriptor{}
			if err := f.UnmarshalBinary(block); err == nil {
				return tview.NewTreeNode(fmt.Sprintf("PCM: %d ch, %d bit, rates %v",
					f.NrChannels, f.BitResolution, f.SamplingFreqs))
			}
		}
	}
	return nil
}
