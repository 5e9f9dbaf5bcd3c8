package main

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joncooperworks/agentpost/crypto/keystore"
)

func main() {
	var (
		handle = flag.String("handle", "", "Handle to generate an identity for (required)")
	)
	flag.Parse()

	if *handle == "" {
		fmt.Fprintf(os.Stderr, "Error: -handle is required\n")
		os.Exit(1)
	}

	ks, err := keystore.NewKeyringKeystore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening keystore: %v\n", err)
		os.Exit(1)
	}

	identity, err := keystore.NewIdentity(*handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating identity: %v\n", err)
		os.Exit(1)
	}
	defer identity.Zeroize()

	if err := ks.SaveIdentity(identity); err != nil {
		if errors.Is(err, keystore.ErrExists) {
			fmt.Fprintf(os.Stderr, "Error: an identity for %q already exists; delete it first to regenerate\n", *handle)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error saving identity: %v\n", err)
		os.Exit(1)
	}

	agreementPub, err := identity.AgreementPub()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deriving agreement public key: %v\n", err)
		os.Exit(1)
	}

	// Public halves go to the relay at registration; private halves
	// stay in the OS credential store.
	fmt.Printf("Identity generated for @%s:\n", *handle)
	fmt.Printf("  Signing public key:   %s\n", base64.StdEncoding.EncodeToString(identity.SigningPub()))
	fmt.Printf("  Agreement public key: %s\n", base64.StdEncoding.EncodeToString(agreementPub[:]))
}
