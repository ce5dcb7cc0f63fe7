package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("nothing to encode")
		fmt.Println("cenc <i|int|s|string|a|bytes> <input>")
		fmt.Println("cenc challenge [nonce as hex]")
		os.Exit(1)
		return
	}

	p := protocol.New()

	switch os.Args[1] {
	case "i", "int":
		v, err := strconv.ParseInt(arg(), 10, 32)
		if err != nil {
			fmt.Println("could not parse integer:", err)
			os.Exit(1)
			return
		}
		p.Put(int32(v))
	case "s", "string":
		p.Put(arg())
	case "a", "bytes":
		b, err := hex.DecodeString(arg())
		if err != nil {
			fmt.Println("could not parse bytes:", err)
			os.Exit(1)
			return
		}
		p.Put(b)
	case "challenge":
		nonce, err := challengeNonce()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
			return
		}
		fmt.Println(hex.EncodeToString(sidechannel.NewChallenge(nonce).Encode()))
		return
	default:
		fmt.Println("unknown type", os.Args[1])
		os.Exit(1)
		return
	}

	fmt.Println(hex.EncodeToString(p.Bytes()))
}

func arg() string {
	if len(os.Args) < 3 {
		fmt.Println("nothing to encode")
		os.Exit(1)
	}
	return os.Args[2]
}

func challengeNonce() ([]byte, error) {
	if len(os.Args) < 3 {
		return auth.NewChallenge(16)
	}
	return hex.DecodeString(os.Args[2])
}
