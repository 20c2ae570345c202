package requests

type RequestType uint8

const (
	RequestTypeVideoInterfaceSetRequest RequestType = 0b00100001
	RequestTypeDataEndpointSetRequest   RequestType = 0b00100010
	RequestTypeVideoInterfaceGetRequest RequestType = 0b10100001
	RequestTypeDataEndpointGetRequest   RequestType = 0b10100010

	// Standard host-to-device interface request, used for SET_INTERFACE
	// when parking a streaming interface on alternate 0.
	RequestTypeStandardInterfaceSetRequest RequestType = 0b00000001

	// Audio class endpoint request, used for the sampling-frequency
	// control on UAC 1.0 streaming endpoints.
	RequestTypeAudioEndpointSetRequest RequestType = 0b00100010
)

type RequestCode uint8

const (
	RequestCodeUndefined RequestCode = 0x00
	RequestCodeSetCur    RequestCode = 0x01
	RequestCodeSetCurAll RequestCode = 0x11
	RequestCodeGetCur    RequestCode = 0x81
	RequestCodeGetMin    RequestCode = 0x82
	RequestCodeGetMax    RequestCode = 0x83
	RequestCodeGetRes    RequestCode = 0x84
	RequestCodeGetLen    RequestCode = 0x85
	RequestCodeGetInfo   RequestCode = 0x86
	RequestCodeGetDef    RequestCode = 0x87
	RequestCodeGetCurAll RequestCode = 0x91
	RequestCodeGetMinAll RequestCode = 0x92
	RequestCodeGetMaxAll RequestCode = 0x93
	RequestCodeGetResAll RequestCode = 0x94
	RequestCodeGetDefAll RequestCode = 0x97

	// Standard bRequest, not class-specific.
	RequestCodeSetInterface RequestCode = 0x0B
)

// SamplingFreqControl is the audio endpoint control selector carried in
// the high byte of wValue (0x0100 on the wire).
const SamplingFreqControl uint16 = 0x01
