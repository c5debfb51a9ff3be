// Command issuetoken mints an operator bearer token signed with
// AUTH_TOKEN_SECRET, for local development and smoke tests.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"caixa/backend/internal/config"
	"caixa/backend/internal/httpapi"
)

func main() {
	username := flag.String("user", "", "operator username")
	role := flag.String("role", httpapi.RoleCashier, "admin or cashier")
	flag.Parse()

	cfg := config.Load()
	if cfg.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_TOKEN_SECRET is not set")
		os.Exit(1)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN)
	token, expiresAt, err := auth.IssueToken(*username, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
