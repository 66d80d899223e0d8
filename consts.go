// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

// Record signatures, little-endian "PK.." markers.
const (
	sigLocal        uint32 = 0x04034b50 // "PK\x03\x04"
	sigCentral      uint32 = 0x02014b50 // "PK\x01\x02"
	sigEOCD         uint32 = 0x06054b50 // "PK\x05\x06"
	sigZip64EOCD    uint32 = 0x06064b50 // "PK\x06\x06"
	sigZip64Locator uint32 = 0x07064b50 // "PK\x06\x07"
	sigDescriptor   uint32 = 0x08074b50 // "PK\x07\x08"
)

// Fixed prefix lengths of the records above.
const (
	localHeaderLen   = 30
	centralHeaderLen = 46
	eocdLen          = 22
	zip64EOCDLen     = 56
	zip64LocatorLen  = 20
	maxCommentLen    = 0xffff
)

// Compression method ids from APPNOTE section 4.4.5.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
	BZip2   uint16 = 12
	LZMA    uint16 = 14
	Zstd    uint16 = 93
	XZ      uint16 = 95
	PPMd    uint16 = 98 // recognized, never implemented
)

// General-purpose flag bits.
const (
	flagEncrypted  = 1 << 0
	flagDescriptor = 1 << 3 // sizes/crc deferred to a data descriptor
	flagUTF8       = 1 << 11
)

// Extra-field tag ids this package understands. Anything else survives
// round trips as an opaque blob.
const (
	tagZip64       uint16 = 0x0001
	tagNTFS        uint16 = 0x000a
	tagExtTime     uint16 = 0x5455
	tagUnicodePath uint16 = 0x7075
	tagUnixIDs     uint16 = 0x7875
)

// 32/16-bit sentinels signalling "the real value lives in a ZIP64 field".
const (
	sentinel32 = 0xffffffff
	sentinel16 = 0xffff
)

// Version-needed-to-extract floors per feature, in MS-DOS "major*10+minor"
// form. ZIP64 always wins when any 8-byte field is in play.
const (
	versionStore   = 10
	versionDeflate = 20
	versionBZip2   = 46
	versionLZMA    = 63
	versionZip64   = 45
)

// Creator host systems we care about when mapping external attributes.
const (
	creatorFAT  = 0
	creatorUnix = 3
	creatorNTFS = 11
	creatorVFAT = 14
	creatorOSX  = 19
)

func methodVersion(method uint16) uint16 {
	switch method {
	case Store:
		return versionStore
	case BZip2:
		return versionBZip2
	case LZMA:
		return versionLZMA
	default:
		return versionDeflate
	}
}
