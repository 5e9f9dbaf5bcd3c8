package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/joncooperworks/agentpost/assistant"
	"github.com/joncooperworks/agentpost/config"
	"github.com/joncooperworks/agentpost/crypto/keystore"
	"github.com/joncooperworks/agentpost/daemon"
	"github.com/joncooperworks/agentpost/guardrail"
	"github.com/joncooperworks/agentpost/logging"
	"github.com/joncooperworks/agentpost/notify"
	"github.com/joncooperworks/agentpost/relay"
	"github.com/joncooperworks/agentpost/store"
)

func main() {
	var (
		configPath = flag.String("config", "agentpost.yml", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}

	ks, err := keystore.NewKeyringKeystore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening keystore: %v\n", err)
		os.Exit(1)
	}
	identity, err := ks.LoadIdentity(cfg.Handle)
	if errors.Is(err, keystore.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: no identity for %q; run agentpost-keygen -handle %s first\n", cfg.Handle, cfg.Handle)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading identity: %v\n", err)
		os.Exit(1)
	}
	defer identity.Zeroize()

	client, err := relay.NewClient(relay.ClientConfig{
		BaseURL:     cfg.Relay.URL,
		Handle:      cfg.Handle,
		SigningPriv: identity.SigningPriv,
		Timeout:     cfg.Relay.RequestTimeout,
		Logger:      log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating relay client: %v\n", err)
		os.Exit(1)
	}

	var filters []guardrail.Filter
	for _, path := range cfg.Guardrail.Filters {
		f, err := guardrail.LoadWASMFilter(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading filter %s: %v\n", path, err)
			os.Exit(1)
		}
		filters = append(filters, f)
	}
	var remote guardrail.Scanner
	if cfg.Guardrail.URL != "" {
		remote, err = guardrail.NewRemote(guardrail.RemoteConfig{
			URL:     cfg.Guardrail.URL,
			Timeout: cfg.Guardrail.Timeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating guardrail client: %v\n", err)
			os.Exit(1)
		}
	}
	chain := guardrail.NewChain(filters, remote, log)
	defer chain.Close()

	notifier, err := notify.NewChatNotifier(notify.ChatConfig{
		URL:        cfg.Notify.URL,
		ChatID:     cfg.Notify.ChatID,
		ConsoleURL: cfg.Notify.ConsoleURL,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Notify.MessagesPerSecond), cfg.Notify.Burst),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating notifier: %v\n", err)
		os.Exit(1)
	}

	agent, err := assistant.NewHTTPAssistant(assistant.HTTPConfig{
		URL:     cfg.Assistant.URL,
		Timeout: cfg.Assistant.Timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating assistant client: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	d, err := daemon.New(daemon.Config{
		Identity:     identity,
		Relay:        client,
		Store:        st,
		Guardrail:    chain,
		Notify:       notifier,
		Assistant:    agent,
		WebSocketURL: cfg.Relay.WebSocketURL,
		PollInterval: cfg.Relay.PollInterval,
		AckInterval:  cfg.Relay.AckInterval,
		BackoffBase:  cfg.Relay.BackoffBase,
		BackoffCap:   cfg.Relay.BackoffCap,
		MetricsAddr:  cfg.Metrics.Addr,
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}
