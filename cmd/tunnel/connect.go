package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devtunnel/internal/client"
)

var (
	_flag_config    string
	_flag_relay     string
	_flag_port      int
	_flag_subdomain string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the relay and expose the local port",
	RunE:  _run_connect,
}

func init() {
	connectCmd.Flags().StringVarP(&_flag_config, "config", "c", "", "path to a client configuration file")
	connectCmd.Flags().StringVar(&_flag_relay, "relay", "", "relay control-channel url, e.g. ws://relay.example/tunnel")
	connectCmd.Flags().IntVarP(&_flag_port, "port", "p", 0, "local port to expose")
	connectCmd.Flags().StringVarP(&_flag_subdomain, "subdomain", "s", "", "preferred subdomain")
}

func _run_connect(cmd *cobra.Command, args []string) error {
	cfg, err := _build_config()
	if err != nil {
		return err
	}

	controller, err := client.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go _print_events(controller.Events())

	if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "tunnel closed")
	return nil
}

// _build_config layers flags over the optional config file.
func _build_config() (*client.Config, error) {
	cfg := client.DefaultConfig()
	if _flag_config != "" {
		loaded, err := client.LoadConfig(_flag_config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if _flag_relay != "" {
		cfg.Relay.URL = _flag_relay
	}
	if _flag_port != 0 {
		cfg.Local.Port = _flag_port
	}
	if _flag_subdomain != "" {
		cfg.Tunnel.Subdomain = _flag_subdomain
	}
	return cfg, cfg.Validate()
}

// _print_events mirrors controller lifecycle onto the terminal.
func _print_events(events <-chan client.Event) {
	for e := range events {
		switch e.Kind {
		case client.EventConnected:
			fmt.Printf("tunnel ready: %s\n", e.PublicURL)
		case client.EventDisconnected:
			fmt.Fprintln(os.Stderr, "disconnected from relay")
		case client.EventReconnecting:
			fmt.Fprintf(os.Stderr, "reconnecting (attempt %d) in %s\n", e.Attempt, e.Delay)
		case client.EventError:
			fmt.Fprintf(os.Stderr, "error: %v\n", e.Err)
		}
	}
}
