// Package mediatest builds small media fixtures for tests: a minimal
// little-endian TIFF carrying EXIF and GPS tags, enough for exif.Decode.
package mediatest

import (
	"bytes"
	"encoding/binary"
)

const (
	tiffASCII    = 2
	tiffLong     = 4
	tiffRational = 5
)

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) tiffEntry {
	data := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: tiffASCII, count: uint32(len(data)), data: data}
}

func longEntry(tag uint16, v uint32) tiffEntry {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return tiffEntry{tag: tag, typ: tiffLong, count: 1, data: data}
}

func rationalEntry(tag uint16, pairs ...[2]uint32) tiffEntry {
	var buf bytes.Buffer
	for _, p := range pairs {
		binary.Write(&buf, binary.LittleEndian, p[0])
		binary.Write(&buf, binary.LittleEndian, p[1])
	}
	return tiffEntry{tag: tag, typ: tiffRational, count: uint32(len(pairs)), data: buf.Bytes()}
}

// encodeIFD lays out one IFD starting at offset, with out-of-line values
// placed directly after the entry table.
func encodeIFD(offset uint32, entries []tiffEntry) []byte {
	var table, extra bytes.Buffer
	dataStart := offset + 2 + uint32(len(entries))*12 + 4

	binary.Write(&table, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&table, binary.LittleEndian, e.tag)
		binary.Write(&table, binary.LittleEndian, e.typ)
		binary.Write(&table, binary.LittleEndian, e.count)
		if len(e.data) <= 4 {
			val := make([]byte, 4)
			copy(val, e.data)
			table.Write(val)
			continue
		}
		binary.Write(&table, binary.LittleEndian, dataStart+uint32(extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	binary.Write(&table, binary.LittleEndian, uint32(0))
	return append(table.Bytes(), extra.Bytes()...)
}

// Fixture lists the tags written by BuildTIFF. Lat and Lon are
// degree/minute/second rationals.
type Fixture struct {
	Make, Model, Serial string
	DateTimeOriginal    string
	DateTime            string
	LatRef, LonRef      string
	Lat, Lon            [3][2]uint32
	WithGPS             bool
}

// Paris is a Canon photo taken 2024-03-05 14:30 at 48.8566N 2.3522E.
func Paris() Fixture {
	return Fixture{
		Make:             "Canon",
		Model:            "EOS R6",
		Serial:           "0123456789",
		DateTimeOriginal: "2024:03:05 14:30:00",
		DateTime:         "2024:03:06 09:00:00",
		WithGPS:          true,
		LatRef:           "N",
		Lat:              [3][2]uint32{{48, 1}, {51, 1}, {2376, 100}},
		LonRef:           "E",
		Lon:              [3][2]uint32{{2, 1}, {21, 1}, {788, 100}},
	}
}

// BuildTIFF returns a TIFF file carrying the fixture's tags.
func BuildTIFF(f Fixture) []byte {
	ifd0 := func(exifOff, gpsOff uint32) []tiffEntry {
		var entries []tiffEntry
		if f.Make != "" {
			entries = append(entries, asciiEntry(0x010F, f.Make))
		}
		if f.Model != "" {
			entries = append(entries, asciiEntry(0x0110, f.Model))
		}
		if f.DateTime != "" {
			entries = append(entries, asciiEntry(0x0132, f.DateTime))
		}
		entries = append(entries, longEntry(0x8769, exifOff))
		if f.WithGPS {
			entries = append(entries, longEntry(0x8825, gpsOff))
		}
		return entries
	}

	var exifEntries []tiffEntry
	if f.DateTimeOriginal != "" {
		exifEntries = append(exifEntries, asciiEntry(0x9003, f.DateTimeOriginal))
	}
	if f.Serial != "" {
		exifEntries = append(exifEntries, asciiEntry(0xA420, f.Serial))
	}
	if len(exifEntries) == 0 {
		exifEntries = append(exifEntries, asciiEntry(0x9003, "not a date"))
	}

	gpsEntries := []tiffEntry{
		asciiEntry(0x0001, f.LatRef),
		rationalEntry(0x0002, f.Lat[0], f.Lat[1], f.Lat[2]),
		asciiEntry(0x0003, f.LonRef),
		rationalEntry(0x0004, f.Lon[0], f.Lon[1], f.Lon[2]),
	}

	const headerLen = 8
	first := encodeIFD(headerLen, ifd0(0, 0))
	exifOff := uint32(headerLen + len(first))
	exifIFD := encodeIFD(exifOff, exifEntries)
	gpsOff := exifOff + uint32(len(exifIFD))

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, binary.LittleEndian, uint16(42))
	binary.Write(&out, binary.LittleEndian, uint32(headerLen))
	out.Write(encodeIFD(headerLen, ifd0(exifOff, gpsOff)))
	out.Write(exifIFD)
	if f.WithGPS {
		out.Write(encodeIFD(gpsOff, gpsEntries))
	}
	return out.Bytes()
}
