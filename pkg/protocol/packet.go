package protocol

import (
	"errors"
	"fmt"
	"log/slog"
)

// MaxByteArrayLen is the longest byte array accepted while decoding.
const MaxByteArrayLen = 1024

// maxStringLen bounds the number of code points read by GetString.
const maxStringLen = 260

var (
	ErrEndOfPacket   = errors.New("protocol: unexpected end of packet")
	ErrNegativeLen   = errors.New("protocol: negative length")
	ErrByteArrayLen  = fmt.Errorf("protocol: byte array longer than %d bytes", MaxByteArrayLen)
	ErrStringTooLong = fmt.Errorf("protocol: string longer than %d characters", maxStringLen)
)

// Packet is a buffer of values encoded with the compressed integer encoding:
// ints in -127..127 take one byte, larger ones are prefixed with 0x80 (int16)
// or 0x81 (int32), little endian. Byte arrays are a length int followed by the
// bytes, strings are code points terminated by 0.
type Packet struct {
	buf []byte
	pos int
}

func New(args ...interface{}) *Packet {
	p := &Packet{}
	p.Put(args...)
	return p
}

// FromBytes wraps b for decoding. The packet does not copy b.
func FromBytes(b []byte) *Packet { return &Packet{buf: b} }

func (p *Packet) Len() int { return len(p.buf) }

func (p *Packet) HasRemaining() bool { return p.pos < p.Len() }

// Bytes returns the part of the packet that was not read yet.
func (p *Packet) Bytes() []byte { return p.buf[p.pos:] }

func (p *Packet) Clear() {
	p.buf = p.buf[:0]
	p.pos = 0
}

// Appends all arguments to the packet.
func (p *Packet) Put(args ...interface{}) {
	for _, arg := range args {
		switch v := arg.(type) {
		case int32:
			p.putInt32(v)

		case []int32:
			for _, w := range v {
				p.putInt32(w)
			}

		case int:
			p.Put(int32(v))

		case uint:
			p.Put(int32(v))

		case byte:
			p.Put(int32(v))

		case []byte:
			p.putByteArray(v)

		case bool:
			if v {
				p.Put(1)
			} else {
				p.Put(0)
			}

		case string:
			p.putString(v)

		default:
			slog.Warn("unhandled packet argument", "type", fmt.Sprintf("%T", v), "value", v)
		}
	}
}

// Encodes an int32 and appends it to the packet.
func (p *Packet) putInt32(i int32) {
	if i < 128 && i > -127 {
		p.buf = append(p.buf, byte(i))
	} else if i < 0x8000 && i >= -0x8000 {
		p.buf = append(p.buf, 0x80, byte(i), byte(i>>8))
	} else {
		p.buf = append(p.buf, 0x81, byte(i), byte(i>>8), byte(i>>16), byte(i>>24))
	}
}

func (p *Packet) putByteArray(b []byte) {
	p.putInt32(int32(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *Packet) putString(s string) {
	for _, c := range s {
		p.putInt32(c)
	}
	p.putInt32(0)
}

func (p *Packet) getByte() (byte, error) {
	if !p.HasRemaining() {
		return 0, ErrEndOfPacket
	}
	b := p.buf[p.pos]
	p.pos++
	return b, nil
}

func (p *Packet) getN(n int) ([]byte, error) {
	if p.Len()-p.pos < n {
		p.pos = p.Len()
		return nil, ErrEndOfPacket
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// GetInt32 decodes an int32 and advances the position accordingly.
func (p *Packet) GetInt32() (int32, error) {
	b, err := p.getByte()
	if err != nil {
		return 0, err
	}

	switch b {
	default:
		return int32(int8(b)), nil
	case 0x80:
		v, err := p.getN(2)
		if err != nil {
			return 0, err
		}
		return int32(int16(uint16(v[0]) | uint16(v[1])<<8)), nil
	case 0x81:
		v, err := p.getN(4)
		if err != nil {
			return 0, err
		}
		return int32(uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24), nil
	}
}

// GetByteArray decodes a length-prefixed byte array. The returned slice is a copy.
func (p *Packet) GetByteArray() ([]byte, error) {
	n, err := p.GetInt32()
	if err != nil {
		return nil, err
	}
	switch {
	case n < 0:
		return nil, ErrNegativeLen
	case n > MaxByteArrayLen:
		return nil, ErrByteArrayLen
	}
	b, err := p.getN(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// GetString reads a 0-terminated string of code points.
func (p *Packet) GetString() (string, error) {
	runes := []rune{}
	for {
		c, err := p.GetInt32()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(runes), nil
		}
		if len(runes) == maxStringLen {
			return "", ErrStringTooLong
		}
		runes = append(runes, rune(c))
	}
}

func (p *Packet) GetBool() (bool, error) {
	v, err := p.GetInt32()
	return v != 0, err
}
