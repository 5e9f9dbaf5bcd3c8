package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joncooperworks/agentpost/config"
	"github.com/joncooperworks/agentpost/store"
)

func main() {
	var (
		storePath = flag.String("store", config.Default().Store.Path, "Path to the daemon's database")
		sender    = flag.String("sender", "", "Handle that sent the held message (required)")
		messageID = flag.String("id", "", "Message id from the hold notification (required)")
	)
	flag.Parse()

	if *sender == "" {
		fmt.Fprintf(os.Stderr, "Error: -sender is required\n")
		os.Exit(1)
	}
	if *messageID == "" {
		fmt.Fprintf(os.Stderr, "Error: -id is required\n")
		os.Exit(1)
	}

	st, err := store.Open(*storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	body, err := st.RevealBlind(*sender, *messageID)
	if errors.Is(err, store.ErrNotCached) {
		fmt.Fprintf(os.Stderr, "Error: no held message %s from @%s\n", *messageID, *sender)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error revealing message: %v\n", err)
		os.Exit(1)
	}

	// The body goes to the human's terminal, nowhere else.
	fmt.Printf("Held message %s from @%s:\n\n", *messageID, *sender)
	os.Stdout.Write(body)
	fmt.Println()
}
