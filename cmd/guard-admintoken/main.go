package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sssxyd/apistatus-guard/pkg/config"
	"github.com/sssxyd/apistatus-guard/pkg/jwtauth"
	"github.com/sssxyd/apistatus-guard/pkg/logger"
)

func main() {
	subject := flag.String("subject", "operator", "subject claim for the issued token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", "", "admin JWT signing secret (defaults to GUARD_ADMIN_JWT_SECRET)")
	flag.Parse()

	log := logger.New("guard-admintoken", slog.LevelInfo)

	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = config.Load().AdminJWTSecret
	}
	if signingSecret == "" {
		log.Error("no admin JWT secret configured; pass -secret or set GUARD_ADMIN_JWT_SECRET")
		os.Exit(1)
	}

	token, err := jwtauth.GenerateAdminToken(*subject, signingSecret, *ttl)
	if err != nil {
		log.Error("failed to generate admin token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
