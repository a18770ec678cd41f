// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"

	"github.com/apiwatch/apiwatch/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	path := os.Getenv("APIWATCH_CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		fail(err.Error())
	}
	ok("config loads: addr=" + cfg.Addr)

	if len(cfg.API.AdminKeys) == 0 {
		warn("api.admin_keys empty — admin routes are open (dev mode).")
	} else {
		ok(fmt.Sprintf("admin keys configured (%d)", len(cfg.API.AdminKeys)))
	}
	if len(cfg.API.PublicKeys) == 0 {
		warn("api.public_keys empty — read routes are open (dev mode).")
	} else {
		ok(fmt.Sprintf("public keys configured (%d)", len(cfg.API.PublicKeys)))
	}

	if cfg.DatabaseURL == "" {
		warn("database_url empty — history and alerts live in memory only.")
	} else {
		ok("database_url present")
	}

	if cfg.EndpointsFile != "" {
		if _, err := os.Stat(cfg.EndpointsFile); err != nil {
			fail("endpoints_file not readable: " + err.Error())
		}
		ok("endpoints_file: " + cfg.EndpointsFile)
	} else {
		ok("endpoints read from database")
	}

	switch {
	case !cfg.Alerting.NotificationsEnabled:
		warn("alerting.notifications_enabled=false — alerts are stored but never sent.")
	case cfg.Alerting.SlackWebhook == "":
		warn("no notification channel configured — alerts are stored but never sent.")
	default:
		ok("slack webhook configured")
	}

	if len(cfg.API.AllowedOrigins) == 0 {
		warn("api.allowed_origins empty — CORS allows any origin.")
	} else {
		ok(fmt.Sprintf("allowed origins configured (%d)", len(cfg.API.AllowedOrigins)))
	}

	ok("preflight passed")
}
