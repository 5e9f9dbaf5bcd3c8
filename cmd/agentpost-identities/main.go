package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/joncooperworks/agentpost/crypto/keystore"
)

func main() {
	flag.Parse()

	ks, err := keystore.NewKeyringKeystore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening keystore: %v\n", err)
		os.Exit(1)
	}

	handles, err := ks.ListHandles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing identities: %v\n", err)
		os.Exit(1)
	}

	if len(handles) == 0 {
		fmt.Println("No identities found in keystore")
		return
	}

	fmt.Printf("Identities in keystore (%d):\n", len(handles))
	for _, handle := range handles {
		identity, err := ks.LoadIdentity(handle)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading identity for %q: %v\n", handle, err)
			os.Exit(1)
		}
		agreementPub, err := identity.AgreementPub()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deriving agreement public key for %q: %v\n", handle, err)
			os.Exit(1)
		}
		fmt.Printf("  - @%s\n", handle)
		fmt.Printf("      signing:   %s\n", base64.StdEncoding.EncodeToString(identity.SigningPub()))
		fmt.Printf("      agreement: %s\n", base64.StdEncoding.EncodeToString(agreementPub[:]))
		identity.Zeroize()
	}
}
