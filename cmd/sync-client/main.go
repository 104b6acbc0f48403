package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"platform-sync/internal/client"
	"platform-sync/internal/codec"
	"platform-sync/internal/config"
	"platform-sync/internal/models"
)

const usage = `commands:
  path <file>     report the file you are looking at
  line <n>        report the line you are on
  user <name>     set and save your reviewer name
  url <ws-url>    set and save the relay URL
  connect         connect with the saved settings
  disconnect      close the connection and stop retrying
  status          show the connection state
  quit`

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	settingsPath := flag.String("settings", cfg.SettingsPath, "Path to the settings YAML file")
	serverURL := flag.String("url", cfg.ServerURL, "Relay URL (overrides the settings file)")
	format := flag.String("format", cfg.WireFormat, "Outbound wire format: envelope or delimited")
	autoConnect := flag.Bool("connect", true, "Connect on startup when a username is set")
	flag.Parse()

	wireFormat, err := codec.ParseFormat(*format)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	settings, err := client.LoadFileSettings(*settingsPath)
	if err != nil {
		log.Fatalf("❌ Failed to load settings: %v", err)
	}

	svc := client.NewService(settings, client.Options{
		ServerURL:            *serverURL,
		Format:               wireFormat,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, func(reviewer string, kind models.Kind, value string) {
		if kind == models.PathChanged {
			value = models.LocalPath(value)
		}
		fmt.Printf("👀 %s %s %s\n", reviewer, kind, value)
	})
	defer svc.Close()

	svc.Manager().AddChangeListener(func(c client.StateChange) {
		if c.Err != nil {
			fmt.Printf("● %s (%v)\n", c.To, c.Err)
			return
		}
		fmt.Printf("● %s\n", c.To)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		err := settings.Watch(ctx, func() {
			log.Printf("✓ Settings reloaded from %s", settings.Path())
		})
		if err != nil {
			log.Printf("⚠️  Settings watch stopped: %v", err)
		}
	}()

	if *autoConnect {
		connect(svc)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(svc, settings, line) {
				return
			}
		}
	}
}

// handleCommand returns false when the client should exit.
func handleCommand(svc *client.Service, settings client.Settings, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "path":
		report(svc.EmitLocalChange(models.PathChanged, arg))
	case "line":
		report(svc.EmitLocalChange(models.LineChanged, arg))
	case "user":
		report(settings.SetUsername(arg))
	case "url":
		report(settings.SetServerURL(arg))
	case "connect":
		connect(svc)
	case "disconnect":
		svc.Disconnect()
	case "status":
		fmt.Printf("● %s as %q\n", svc.State(), svc.Username())
	case "quit", "exit":
		return false
	default:
		fmt.Println(usage)
	}
	return true
}

func connect(svc *client.Service) {
	err := svc.Connect()
	var cfgErr *client.ConfigError
	if errors.As(err, &cfgErr) {
		fmt.Printf("⚠️  %v (use: user <name>)\n", cfgErr)
		return
	}
	report(err)
}

func report(err error) {
	if err != nil {
		fmt.Printf("⚠️  %v\n", err)
	}
}
