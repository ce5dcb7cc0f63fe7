package login

import (
	"fmt"
	"io"
)

// Answerer answers a side channel query. understood is false for unknown channels.
type Answerer func(channel string, payload []byte) (answer []byte, understood bool)

// Run performs the client side of the login exchange on rw. It returns the server's final message,
// which is either a Welcome or a Disconnect.
func Run(rw io.ReadWriter, name string, answer Answerer) (Message, error) {
	if err := Write(rw, Message{Code: Connect, Name: name}); err != nil {
		return Message{}, err
	}
	for {
		m, err := Read(rw)
		if err != nil {
			return Message{}, err
		}
		switch m.Code {
		case Query:
			payload, understood := answer(m.Channel, m.Payload)
			if !understood {
				payload = nil
			}
			if err := Write(rw, Message{Code: Answer, Understood: understood, Payload: payload}); err != nil {
				return Message{}, err
			}
		case Welcome, Disconnect:
			return m, nil
		default:
			return m, fmt.Errorf("login: unexpected message code %d from server", m.Code)
		}
	}
}
