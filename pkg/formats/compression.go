package formats

import "github.com/google/uuid"

type CompressionFormat uuid.UUID

// GUIDs from the UVC uncompressed payload spec. The byte layout on the
// wire is the little-endian GUID encoding; descriptors hold them as
// 16-byte arrays.
var (
	CompressionFormatYUY2 = CompressionFormat(uuid.MustParse("32595559-0000-0010-8000-00AA00389B71"))
	CompressionFormatNV12 = CompressionFormat(uuid.MustParse("3231564E-0000-0010-8000-00AA00389B71"))
	CompressionFormatI420 = CompressionFormat(uuid.MustParse("30323449-0000-0010-8000-00AA00389B71"))
)

// WireBytes returns the GUID as it appears in a format descriptor:
// the first three groups little-endian, the rest big-endian.
func (f CompressionFormat) WireBytes() [16]byte {
	u := uuid.UUID(f)
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}
