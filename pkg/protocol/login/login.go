// Package login implements the framed messages of the reference login exchange: the client
// connects with a name, the server runs side channel queries, then welcomes or disconnects the client.
package login

import (
	"fmt"
	"io"

	"github.com/sauerbraten/fallbackauth/pkg/protocol"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/disconnectreason"
)

type Code int32

const (
	Connect    Code = iota + 1 // C2S name
	Query                      // S2C channel payload
	Answer                     // C2S understood payload
	Welcome                    // S2C id name
	Disconnect                 // S2C reason message
)

type Message struct {
	Code Code

	Name       string              // Connect, Welcome
	ID         string              // Welcome
	Channel    string              // Query
	Payload    []byte              // Query, Answer
	Understood bool                // Answer
	Reason     disconnectreason.ID // Disconnect
	Message    string              // Disconnect
}

func Write(w io.Writer, m Message) error {
	p := protocol.New(int32(m.Code))
	switch m.Code {
	case Connect:
		p.Put(m.Name)
	case Query:
		p.Put(m.Channel, m.Payload)
	case Answer:
		p.Put(m.Understood, m.Payload)
	case Welcome:
		p.Put(m.ID, m.Name)
	case Disconnect:
		p.Put(int32(m.Reason), m.Message)
	default:
		return fmt.Errorf("login: unknown message code %d", m.Code)
	}
	return protocol.WriteFrame(w, p)
}

func Read(r io.Reader) (m Message, err error) {
	p, err := protocol.ReadFrame(r)
	if err != nil {
		return
	}
	code, err := p.GetInt32()
	if err != nil {
		return
	}
	m.Code = Code(code)

	switch m.Code {
	case Connect:
		m.Name, err = p.GetString()
	case Query:
		if m.Channel, err = p.GetString(); err == nil {
			m.Payload, err = p.GetByteArray()
		}
	case Answer:
		if m.Understood, err = p.GetBool(); err == nil {
			m.Payload, err = p.GetByteArray()
		}
	case Welcome:
		if m.ID, err = p.GetString(); err == nil {
			m.Name, err = p.GetString()
		}
	case Disconnect:
		var reason int32
		if reason, err = p.GetInt32(); err == nil {
			m.Reason = disconnectreason.ID(reason)
			m.Message, err = p.GetString()
		}
	default:
		err = fmt.Errorf("login: unknown message code %d", code)
	}
	return
}
