// relaytoken mints home tokens for provisioning devices and apps.
//
// The signing secret and audience come from the relay config (or its
// environment overrides), so tokens minted here are accepted by a relay
// running with the same configuration.
//
// Usage:
//
//	relaytoken --config configs/config.yaml --subject alice --home home-42 --ttl 720h
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/config"
)

const configEnv = "RELAY_CONFIG"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// mintFlags holds parsed command-line flags.
type mintFlags struct {
	configPath string
	subject    string
	homeID     string
	ttl        time.Duration
	noExpiry   bool
}

func run(args []string, stdout, stderr io.Writer) error {
	var f mintFlags
	flagSet := pflag.NewFlagSet("relaytoken", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&f.configPath, "config", "c", os.Getenv(configEnv), "path to relay YAML config")
	flagSet.StringVar(&f.subject, "subject", "", "token subject (user or installer)")
	flagSet.StringVar(&f.homeID, "home", "", "home identifier carried in the token")
	flagSet.DurationVar(&f.ttl, "ttl", 0, "token lifetime (default: security.jwt.token_ttl minutes)")
	flagSet.BoolVar(&f.noExpiry, "no-expiry", false, "mint a token without an exp claim")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if f.homeID == "" {
		return fmt.Errorf("--home is required")
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Duration(cfg.Security.JWT.TokenTTL) * time.Minute
	}
	if f.noExpiry {
		ttl = 0
	}

	token, err := auth.MintHomeToken(auth.MintOptions{
		Secret:   cfg.Security.JWT.Secret,
		Audience: cfg.Security.JWT.Audience,
		Subject:  f.subject,
		HomeID:   f.homeID,
		TTL:      ttl,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stderr, "fingerprint %s, home %s, ttl %s\n", auth.Fingerprint(token), f.homeID, describeTTL(ttl))
	return nil
}

func describeTTL(ttl time.Duration) string {
	if ttl <= 0 {
		return "none"
	}
	return ttl.String()
}
