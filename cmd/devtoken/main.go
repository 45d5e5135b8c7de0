// Command devtoken mints access tokens signed with JWT_SECRET for local runs,
// standing in for the identity provider.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	userID := pflag.StringP("user", "u", "", "subject user id")
	email := pflag.StringP("email", "e", "", "email claim")
	role := pflag.StringP("role", "r", string(auth.RoleBuyer), "buyer, seller or admin")
	pflag.Parse()

	if err := run(*userID, *email, *role); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(userID, email, roleName string) error {
	if userID == "" {
		return errors.New("--user is required")
	}
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	jwtService := auth.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.TokenExpiry)
	token, expiresAt, err := jwtService.GenerateAccessToken(userID, email, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintln(os.Stderr, "expires", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
