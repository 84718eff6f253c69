// Command chatctl manages chatrelay accounts and handshake tokens directly
// against the server's SQLite database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "add-user":
		err = cmdAddUser(args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: chatctl <command> [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  add-user    Create a user account")
	fmt.Println("  token       Issue a handshake token for a user")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  JWT_SECRET       Token signing secret (required)")
	fmt.Println("  DATABASE_PATH    SQLite database file (default: data/chat.db)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  chatctl add-user --name Alice --email alice@example.com --password s3cret")
	fmt.Println("  chatctl token --email alice@example.com --ttl 1h")
	fmt.Println()
}

func openStore(configPath string) (*server.Config, *store.SQLiteStore, error) {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, st, nil
}

func cmdAddUser(args []string) error {
	fs := flag.NewFlagSet("add-user", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	name := fs.String("name", "", "display name (required)")
	email := fs.String("email", "", "email address (required)")
	password := fs.String("password", "", "password (required)")
	pic := fs.String("pic", "", "profile picture URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" || *email == "" || *password == "" {
		return errors.New("--name, --email and --password are required")
	}

	_, st, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}

	user := &store.User{
		Name:         strings.TrimSpace(*name),
		Email:        strings.ToLower(strings.TrimSpace(*email)),
		ProfilePic:   *pic,
		PasswordHash: hash,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("a user with email %s already exists", user.Email)
		}
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Println("User created")
	fmt.Printf("  ID:    ")
	cyan.Println(user.ID)
	fmt.Printf("  Name:  %s\n", user.Name)
	fmt.Printf("  Email: %s\n", user.Email)
	return nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	userID := fs.String("user", "", "user ID")
	email := fs.String("email", "", "user email (alternative to --user)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" && *email == "" {
		return errors.New("one of --user or --email is required")
	}

	cfg, st, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var user *store.User
	if *userID != "" {
		user, err = st.GetUser(ctx, *userID)
	} else {
		user, err = st.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(*email)))
	}
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("user not found")
	}
	if err != nil {
		return err
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(user.ID, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("Token for %s (%s), valid %s:\n", user.Name, user.ID, lifetime)
	fmt.Println(token)
	fmt.Println()
	yellow.Println("Connect with:")
	fmt.Printf("  ws://localhost%s/ws?token=%s\n", cfg.Port, token)
	return nil
}
