// Command devtoken signs a bearer credential for local development.
//
//	JWT_SECRET=dev go run ./cmd/devtoken -sub rider@example.com -role USER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"cabgo/internal/auth"
	"cabgo/internal/config"
	"cabgo/internal/domain"
)

func main() {
	subject := flag.String("sub", "", "rider email or driver phone")
	role := flag.String("role", string(domain.RoleRider), "USER, DRIVER or OPERATOR")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -sub flag is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *ttl).Issue(domain.Principal{
		Subject: *subject,
		Role:    domain.Role(*role),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
