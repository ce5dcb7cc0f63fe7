package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sauerbraten/fallbackauth/pkg/auth"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/login"
	"github.com/sauerbraten/fallbackauth/pkg/protocol/sidechannel"
)

const usage = `Usage:
  genkey                                     generate a key pair
  genkey solve <private key> <challenge>     answer a hex-encoded challenge
  genkey connect <addr> <name> <private key> log in to a server`

func main() {
	if len(os.Args) < 2 {
		generate()
		return
	}

	var err error
	switch os.Args[1] {
	case "solve":
		if len(os.Args) < 4 {
			exitUsage()
		}
		err = solve(os.Args[2], os.Args[3])
	case "connect":
		if len(os.Args) < 5 {
			exitUsage()
		}
		err = connect(os.Args[2], os.Args[3], os.Args[4])
	default:
		exitUsage()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(3)
	}
}

func exitUsage() {
	fmt.Println(usage)
	os.Exit(1)
}

func generate() {
	priv, pub, err := auth.GenerateKeyPair()
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
		return
	}

	fmt.Printf("keep this private key on the player's machine:\n%s\n", hex.EncodeToString(priv))
	fmt.Printf("register the public key on a server with 'keys add <id|name> <key>':\n%s\n", auth.FormatPublicKey(pub))
}

func solve(privHex, challengeHex string) error {
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}

	answer, err := sidechannel.Answer(challenge, priv)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(answer))
	return nil
}

func connect(addr, name, privHex string) error {
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	if _, err := auth.DecodePrivateKey(priv); err != nil {
		return err
	}

	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := login.Run(c, name, func(channel string, payload []byte) ([]byte, bool) {
		switch channel {
		case sidechannel.FallbackAuth, sidechannel.SyncS2C:
			answer, err := sidechannel.Answer(payload, priv)
			if err != nil {
				fmt.Println("could not answer challenge on", channel+":", err)
				return nil, false
			}
			fmt.Println("answered challenge on", channel)
			return answer, true
		default:
			return nil, false
		}
	})
	if err != nil {
		return err
	}

	switch m.Code {
	case login.Welcome:
		fmt.Printf("logged in as %s (%s)\n", m.Name, m.ID)
	case login.Disconnect:
		fmt.Printf("disconnected: %s\n", m.Message)
	}
	return nil
}
