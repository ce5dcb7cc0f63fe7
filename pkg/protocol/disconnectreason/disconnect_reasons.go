package disconnectreason

import "fmt"

// ID identifies why a fallback authentication attempt ended in a disconnect.
type ID uint32

const (
	None ID = iota
	TooManyRequests
	InvalidPublicKey
	InvalidSignature
	CompatibilityMismatch
	Internal
	Aborted
	Unauthenticated
)

var String []string = []string{
	"",
	"Too many requests",
	"Received invalid public key",
	"Received invalid signature",
	"Compatibility mismatch",
	"Internal fallback error",
	"Fallback authentication aborted",
	"Authentication failed",
}

func (r ID) String() string {
	if int(r) < len(String) {
		return String[r]
	}
	return fmt.Sprintf("unknown reason %d", uint32(r))
}

// Mismatch returns the message shown when client and server speak different message versions.
func Mismatch(server, client int32) string {
	return fmt.Sprintf("%s server=%d, client=%d", String[CompatibilityMismatch], server, client)
}
