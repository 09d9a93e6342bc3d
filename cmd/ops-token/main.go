// Command ops-token mints a bearer token for the admin API, e.g. for the
// chat adapter or an on-call operator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-core/pkg/auth"
	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "ops-token"})

	_ = godotenv.Load()

	subject := flag.String("sub", "", "operator or service id")
	role := flag.String("role", string(enums.OperatorRoleViewer), "operator role: admin|viewer")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to STOREFRONT_JWT_EXPIRATION_MINUTES")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	parsedRole, err := enums.ParseOperatorRole(*role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -role: %v\n", err)
		os.Exit(1)
	}

	jwtCfg := cfg.JWT
	if *ttl > 0 {
		jwtCfg.ExpirationMinutes = int((*ttl + time.Minute - 1) / time.Minute)
	}

	token, err := auth.MintAccessToken(jwtCfg, time.Now(), auth.AccessTokenPayload{
		Subject: *subject,
		Role:    parsedRole,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}

	ctx := logg.WithFields(context.Background(), map[string]any{
		"sub":  *subject,
		"role": parsedRole,
	})
	logg.Info(ctx, "operator token minted")
	fmt.Println(token)
}
