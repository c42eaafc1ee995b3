package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
)

// oggOpusWriter frames Opus packets into an Ogg container (RFC 7845,
// mapping family 0: mono/stereo, one stream, no coupling beyond stereo),
// adapted down from a fuller multistream Ogg/Opus writer in the
// reference corpus to the single-stream case this engine needs. Used by
// the recorder for the OGG_VORBIS format slot: the bitstream carried is
// actually Opus, not Vorbis proper, since no pure-Go Vorbis encoder
// exists anywhere in the available library set. The container and file
// extension are standard Ogg either way.
type oggOpusWriter struct {
	w           io.Writer
	channels    int
	serial      uint32
	pageSeq     uint32
	granulePos  uint64
	headersDone bool
	closed      bool
}

const oggPreSkip = 312 // standard Opus encoder lookahead at 48kHz

func newOggOpusWriter(w io.Writer, channels int) (*oggOpusWriter, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("record: ogg writer supports 1 or 2 channels, got %d", channels)
	}
	ow := &oggOpusWriter{
		w:        w,
		channels: channels,
		serial:   rand.Uint32(),
	}
	if err := ow.writeHeaders(); err != nil {
		return nil, err
	}
	return ow, nil
}

func (ow *oggOpusWriter) writeHeaders() error {
	head := encodeOpusHead(ow.channels, oggPreSkip)
	if err := ow.writePage(head, oggFlagBOS, 0); err != nil {
		return err
	}
	tags := encodeOpusTags()
	if err := ow.writePage(tags, 0, 0); err != nil {
		return err
	}
	ow.headersDone = true
	return nil
}

// WritePacket appends one Opus packet representing the given number of
// 48kHz samples.
func (ow *oggOpusWriter) WritePacket(packet []byte, samples int) error {
	if ow.closed {
		return fmt.Errorf("record: write to closed ogg stream")
	}
	ow.granulePos += uint64(samples)
	return ow.writePage(packet, 0, ow.granulePos)
}

// Close writes the EOS page.
func (ow *oggOpusWriter) Close() error {
	if ow.closed {
		return nil
	}
	ow.closed = true
	return ow.writePage(nil, oggFlagEOS, ow.granulePos)
}

const (
	oggFlagContinued = 0x1
	oggFlagBOS       = 0x2
	oggFlagEOS       = 0x4
)

// writePage encodes and writes one Ogg page carrying a single packet.
func (ow *oggOpusWriter) writePage(payload []byte, headerType byte, granule uint64) error {
	segments := lacingValues(len(payload))

	var header bytes.Buffer
	header.WriteString("OggS")
	header.WriteByte(0) // version
	header.WriteByte(headerType)
	binary.Write(&header, binary.LittleEndian, granule)
	binary.Write(&header, binary.LittleEndian, ow.serial)
	binary.Write(&header, binary.LittleEndian, ow.pageSeq)
	binary.Write(&header, binary.LittleEndian, uint32(0)) // CRC placeholder
	header.WriteByte(byte(len(segments)))
	header.Write(segments)

	full := append(header.Bytes(), payload...)
	crc := oggCRC32(full)
	binary.LittleEndian.PutUint32(full[22:26], crc)

	if _, err := ow.w.Write(full); err != nil {
		return fmt.Errorf("record: write ogg page: %w", err)
	}
	ow.pageSeq++
	return nil
}

// lacingValues builds the Ogg lacing table for a single packet of size n,
// per RFC 3533: a run of 255s followed by the remainder (a trailing 0 if
// n is an exact multiple of 255, so a zero-length packet is still valid).
func lacingValues(n int) []byte {
	var segs []byte
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	segs = append(segs, byte(n))
	return segs
}

// encodeOpusHead builds the 19-byte-plus mapping-family-0 OpusHead
// packet (RFC 7845 §5.1).
func encodeOpusHead(channels, preSkip int) []byte {
	var b bytes.Buffer
	b.WriteString("OpusHead")
	b.WriteByte(1) // version
	b.WriteByte(byte(channels))
	binary.Write(&b, binary.LittleEndian, uint16(preSkip))
	binary.Write(&b, binary.LittleEndian, uint32(48000)) // input sample rate, informational
	binary.Write(&b, binary.LittleEndian, int16(0))      // output gain
	b.WriteByte(0)                                       // mapping family 0
	return b.Bytes()
}

// encodeOpusTags builds a minimal OpusTags packet (RFC 7845 §5.2) with no
// user comments.
func encodeOpusTags() []byte {
	var b bytes.Buffer
	b.WriteString("OpusTags")
	vendor := "djengine"
	binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	binary.Write(&b, binary.LittleEndian, uint32(0)) // no comments
	return b.Bytes()
}

var oggCRCTable [256]uint32

func init() {
	const poly = 0x04c11db7
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		oggCRCTable[i] = crc
	}
}

// oggCRC32 computes the unreflected CRC-32 variant Ogg uses over an
// entire page with the checksum field zeroed.
func oggCRC32(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
