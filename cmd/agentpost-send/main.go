package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joncooperworks/agentpost/config"
	"github.com/joncooperworks/agentpost/crypto"
	"github.com/joncooperworks/agentpost/crypto/keystore"
	"github.com/joncooperworks/agentpost/relay"
	"github.com/joncooperworks/agentpost/store"
)

func main() {
	var (
		handle    = flag.String("handle", "", "Sending handle (required)")
		relayURL  = flag.String("relay", "", "Relay base URL (required)")
		recipient = flag.String("to", "", "Recipient handle (required)")
		message   = flag.String("message", "", "Message text (reads stdin when omitted)")
		storePath = flag.String("store", config.Default().Store.Path, "Trust database path")
		timeout   = flag.Duration("timeout", 30*time.Second, "Request timeout")
	)
	flag.Parse()

	if *handle == "" {
		fmt.Fprintf(os.Stderr, "Error: -handle is required\n")
		os.Exit(1)
	}
	if *relayURL == "" {
		fmt.Fprintf(os.Stderr, "Error: -relay is required\n")
		os.Exit(1)
	}
	if *recipient == "" {
		fmt.Fprintf(os.Stderr, "Error: -to is required\n")
		os.Exit(1)
	}

	body := []byte(*message)
	if len(body) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading message from stdin: %v\n", err)
			os.Exit(1)
		}
		body = data
	}
	if len(body) == 0 {
		fmt.Fprintf(os.Stderr, "Error: message is empty\n")
		os.Exit(1)
	}

	ks, err := keystore.NewKeyringKeystore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening keystore: %v\n", err)
		os.Exit(1)
	}
	identity, err := ks.LoadIdentity(*handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading identity for %q: %v\n", *handle, err)
		os.Exit(1)
	}
	defer identity.Zeroize()

	client, err := relay.NewClient(relay.ClientConfig{
		BaseURL:     *relayURL,
		Handle:      *handle,
		SigningPriv: identity.SigningPriv,
		Timeout:     *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating relay client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	agreementPub, pinned := recipientKey(ctx, client, *storePath, *recipient)

	envelope, err := crypto.EncryptForRecipient(body, agreementPub, identity.SigningPriv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encrypting message: %v\n", err)
		os.Exit(1)
	}

	id, err := client.Send(ctx, *recipient, envelope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending message: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Message sent:\n")
	fmt.Printf("  From: @%s\n", *handle)
	fmt.Printf("  To:   @%s\n", *recipient)
	fmt.Printf("  ID:   %s\n", id)
	if !pinned {
		fmt.Printf("  Note: recipient keys were not pinned, future sends may use different keys\n")
	}
}

// recipientKey resolves the recipient's agreement key, preferring keys
// already pinned in the trust database over whatever the relay publishes
// today. Unknown recipients are pinned on first use so later sends and
// the daemon's signature checks see the same keys. Exits on any failure
// that would mean encrypting to an unverifiable key.
func recipientKey(ctx context.Context, client *relay.Client, storePath, recipient string) (agreementPub [32]byte, pinned bool) {
	st, err := store.Open(storePath)
	if err != nil {
		// Most likely the daemon holds the database lock. Sending still
		// works with relay-published keys, but nothing is pinned.
		fmt.Fprintf(os.Stderr, "Warning: trust database unavailable (%v)\n", err)
		return fetchKey(ctx, client, recipient), false
	}
	defer st.Close()

	contact, err := st.ContactFor(recipient)
	switch {
	case err == nil:
		return contact.AgreementKey, true
	case errors.Is(err, store.ErrUnknownContact):
		keys, err := client.Keys(ctx, recipient)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching keys for %q: %v\n", recipient, err)
			os.Exit(1)
		}
		if len(keys.AgreementKey) != 32 {
			fmt.Fprintf(os.Stderr, "Error: relay returned a malformed agreement key for %q\n", recipient)
			os.Exit(1)
		}
		c := store.Contact{Handle: recipient, SigningKey: keys.SigningKey}
		copy(c.AgreementKey[:], keys.AgreementKey)
		if err := st.PinContact(c); err != nil {
			fmt.Fprintf(os.Stderr, "Error pinning keys for %q: %v\n", recipient, err)
			os.Exit(1)
		}
		return c.AgreementKey, true
	default:
		fmt.Fprintf(os.Stderr, "Error reading trust database: %v\n", err)
		os.Exit(1)
	}
	return agreementPub, false
}

func fetchKey(ctx context.Context, client *relay.Client, recipient string) [32]byte {
	keys, err := client.Keys(ctx, recipient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching keys for %q: %v\n", recipient, err)
		os.Exit(1)
	}
	if len(keys.AgreementKey) != 32 {
		fmt.Fprintf(os.Stderr, "Error: relay returned a malformed agreement key for %q\n", recipient)
		os.Exit(1)
	}
	var pub [32]byte
	copy(pub[:], keys.AgreementKey)
	return pub
}
