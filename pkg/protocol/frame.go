package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds the payload of a single frame.
const MaxFrameLen = 4096

var ErrFrameTooLong = fmt.Errorf("protocol: frame longer than %d bytes", MaxFrameLen)

// WriteFrame writes p to w, prefixed with its length as a big endian uint16.
func WriteFrame(w io.Writer, p *Packet) error {
	if p.Len() > MaxFrameLen {
		return ErrFrameTooLong
	}
	buf := make([]byte, 2, 2+p.Len())
	binary.BigEndian.PutUint16(buf, uint16(p.Len()))
	buf = append(buf, p.buf...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (*Packet, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n > MaxFrameLen {
		return nil, ErrFrameTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return FromBytes(buf), nil
}
