package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

const usage = `cdec challenge <bytes as hex>...
cdec response <bytes as hex>...
cdec "<i|a|s|t>..." <bytes as hex>...   (int, byte array, string, bool)`

func main() {
	if len(os.Args) < 3 {
		fmt.Println("nothing to decode")
		fmt.Println(usage)
		os.Exit(1)
		return
	}

	buf, err := hex.DecodeString(strings.Join(os.Args[2:], ""))
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
		return
	}

	switch os.Args[1] {
	case "challenge":
		err = decodeChallenge(buf)
	case "response":
		err = decodeResponse(buf)
	default:
		err = decodeFormat(os.Args[1], buf)
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(3)
	}
}

func decodeChallenge(buf []byte) error {
	c, err := sidechannel.DecodeChallenge(buf)
	if err != nil {
		return err
	}
	fmt.Printf("version: %d\nnonce:   %x\n", c.Version, c.Nonce)
	return nil
}

func decodeResponse(buf []byte) error {
	r, err := sidechannel.DecodeResponse(buf)
	if err != nil {
		return err
	}
	fmt.Printf("version:    %d\nsignature:  %x\npublic key: %s\n", r.Version, r.Signature, auth.FormatPublicKey(r.EncodedPublicKey))
	if _, err := auth.DecodePublicKey(r.EncodedPublicKey); err != nil {
		fmt.Println("warning:", err)
	}
	return nil
}

func decodeFormat(format string, buf []byte) error {
	p := protocol.FromBytes(buf)
	for _, f := range format {
		if !p.HasRemaining() {
			break
		}
		var (
			v   interface{}
			err error
		)
		switch f {
		case 'i':
			v, err = p.GetInt32()
		case 'a':
			var b []byte
			b, err = p.GetByteArray()
			v = fmt.Sprintf("%x", b)
		case 's':
			v, err = p.GetString()
		case 't':
			v, err = p.GetBool()
		default:
			return fmt.Errorf("unknown format character %q", f)
		}
		if err != nil {
			return err
		}
		fmt.Print(v, " ")
	}
	fmt.Println()
	if p.HasRemaining() {
		fmt.Printf("%d bytes left: %x\n", len(p.Bytes()), p.Bytes())
	}
	return nil
}
