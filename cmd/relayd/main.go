package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/daemon"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/lock"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	httpFlag := flag.String("http", "", `HTTP gateway address; "off" disables it (overrides config)`)
	levelFlag := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	flag.Parse()

	name, err := instance.Resolve(*instanceFlag)
	if err != nil {
		fatal(err)
	}
	cfg, err := config.LoadEffective(instance.ConfigPath())
	if err != nil {
		fatal(err)
	}
	switch *httpFlag {
	case "":
	case "off":
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = *httpFlag
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}

	app := fx.New(daemon.Module(daemon.Params{InstanceName: name, Config: cfg}))
	var held *lock.HeldError
	if errors.As(app.Err(), &held) {
		fatal(fmt.Errorf("instance %q: %w", name, held))
	}
	app.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
	os.Exit(1)
}
