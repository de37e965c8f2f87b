// Command token mints development credentials accepted by the signaling
// server, in the same {id, role} shape the platform's identity service issues.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"signaling-service/internal/auth"
	"signaling-service/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	userID := flag.String("user", "", "user id to embed in the token (required)")
	role := flag.String("role", "client", "role claim")
	ttl := flag.Duration("ttl", cfg.JWT.ExpirationTime, "token lifetime")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.NewTokenIssuer(cfg.JWT).IssueWithTTL(*userID, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
}
