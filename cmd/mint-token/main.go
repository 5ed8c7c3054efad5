// Command mint-token prints a signed connection token for a user id, using the
// same JWT_SECRET and JWT_ALGORITHM as the gateway.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/presencegw/internal/auth"
	"github.com/Tyrowin/presencegw/internal/server"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "token lifetime")
	flag.Parse()

	if err := mint(*userID, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "mint-token:", err)
		os.Exit(1)
	}
}

func mint(userID string, ttl time.Duration) error {
	config := server.NewConfigFromEnv()
	if err := config.Validate(); err != nil {
		return err
	}

	signer, err := auth.NewSigner(auth.Options{
		Secret: []byte(config.Auth.Secret),
		Alg:    config.Auth.Algorithm,
		TTL:    ttl,
	})
	if err != nil {
		return err
	}

	token, exp, err := signer.Sign(userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
