package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/time-capsule/internal/config"
	"github.com/nimasrn/time-capsule/pkg/jwtutil"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/pg"
)

// usage:
//
//	cli [up|down|status] --dir=./migrations --env=.env
//	cli token --user=1 --email=ada@example.com [--name=Ada] [--ttl=24h] --env=.env
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Fatal(err)
	}

	if command() == "token" {
		if err := issueToken(); err != nil {
			logger.Fatal(err)
		}
		return
	}

	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	dir := getMigrationPath()
	switch command() {
	case "down":
		err = pg.Rollback(pgConf, dir)
	case "status":
		err = pg.Status(pgConf, dir)
	default:
		err = pg.Migrate(pgConf, dir)
	}
	if err != nil {
		logger.Fatal(err, "dir", dir)
	}
	logger.Info("migration: done", "command", command(), "dir", dir)
}

func command() string {
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "--") {
			return v
		}
	}
	return "up"
}

func flagValue(name string) (string, bool) {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--"+name+"=") {
			return strings.SplitN(v, "=", 2)[1], true
		}
	}
	return "", false
}

func getEnvPath() string {
	path, ok := flagValue("env")
	if !ok {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if ok {
			logger.Error("failed to open the passed env file", "path", path, "error", err)
		}
		return ""
	}
	return path
}

func getMigrationPath() string {
	path, ok := flagValue("dir")
	if !ok {
		path = "./migrations"
	}
	if _, err := os.Stat(path); err != nil {
		logger.Error("failed to open the migrations directory", "path", path, "error", err)
	}
	return path
}

// issueToken prints a bearer token the api accepts, for local testing.
func issueToken() error {
	raw, _ := flagValue("user")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("--user must be a positive id, got %q", raw)
	}
	email, _ := flagValue("email")
	name, _ := flagValue("name")

	ttl := 24 * time.Hour
	if v, ok := flagValue("ttl"); ok {
		if ttl, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
	}

	token, err := jwtutil.Issue(jwtutil.JWTConfig{
		Secret: config.Get().JwtSecret,
		Issuer: config.Get().JwtIssuer,
	}, jwtutil.Claims{UserID: userID, Email: email, Name: name, Active: true}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
