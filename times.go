// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"encoding/binary"
	"time"
)

// msDosTimeToTime converts an MS-DOS date and time pair into a
// time.Time. The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

// timeToMsDosTime is the inverse, clamped to the representable range
// (1980..2107). The zero time encodes as the epoch, 1980-01-01.
func timeToMsDosTime(t time.Time) (dosDate, dosTime uint16) {
	t = t.UTC()
	if t.Year() < 1980 {
		return 0x21, 0 // 1980-01-01 00:00:00
	}
	if t.Year() > 2107 {
		t = time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC)
	}
	dosDate = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return
}

const ntfsTicksPerSecond = 1e7 // Windows timestamp resolution

var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

func ntfsToTime(ts uint64) time.Time {
	secs := int64(ts) / ntfsTicksPerSecond
	nsecs := (1e9 / ntfsTicksPerSecond) * (int64(ts) % ntfsTicksPerSecond)
	return time.Unix(ntfsEpoch.Unix()+secs, nsecs)
}

func timeToNTFS(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	d := t.Sub(ntfsEpoch)
	return uint64(d / (time.Second / ntfsTicksPerSecond))
}

// modTimeFromExtras finds the most precise modification time the extra
// fields offer, falling back to the zero time. The extended timestamp
// (0x5455) and NTFS (0x000a) fields beat the 2-second DOS stamp.
func modTimeFromExtras(xs ExtraFields) time.Time {
	if raw, ok := xs.find(tagExtTime); ok && len(raw) >= 5 && raw[0]&1 != 0 {
		return time.Unix(int64(binary.LittleEndian.Uint32(raw[1:])), 0)
	}
	if raw, ok := xs.find(tagNTFS); ok && len(raw) >= 4 {
		// the NTFS field nests its own (tag, size) attribute list
		if sub, err := parseExtras(raw[4:]); err == nil {
			if times, ok := sub.find(1); ok && len(times) >= 8 {
				return ntfsToTime(binary.LittleEndian.Uint64(times))
			}
		}
	}
	return time.Time{}
}

// extTimeField builds a 0x5455 payload carrying just the mtime, the
// form nearly every tool writes.
func extTimeField(mtime time.Time) []byte {
	out := make([]byte, 0, 5)
	out = append(out, 1) // flags: mtime present
	return binary.LittleEndian.AppendUint32(out, uint32(mtime.Unix()))
}

// ntfsField builds a 0x000a payload with the standard single attribute
// holding mtime/atime/ctime as Windows filetimes.
func ntfsField(mtime, atime, ctime time.Time) []byte {
	out := make([]byte, 32)
	b := writeBuf(out)
	b.uint32(0) // reserved
	b.uint16(1) // attribute tag: times
	b.uint16(24)
	b.uint64(timeToNTFS(mtime))
	b.uint64(timeToNTFS(atime))
	b.uint64(timeToNTFS(ctime))
	return out
}
