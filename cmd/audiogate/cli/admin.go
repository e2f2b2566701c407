package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage user accounts from the command line",
		Long:  "Create administrators, list accounts, and activate API keys without going through the HTTP API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminActivateKeyCmd())
	cmd.AddCommand(newAdminResetPasswordCmd())

	return cmd
}

// openStore opens the document store at the configured data directory. The
// returned KeyManager logs to a quiet pipeline; CLI actions still land in the
// store's audit trail.
func openStore() (*store.Store, *auth.KeyManager, error) {
	dir := dataDir
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = home + "/.audiogate"
	}
	docs, err := store.New(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pipeline := audit.NewPipeline(logger, audit.NewStoreSink(docs))
	return docs, auth.NewKeyManager(docs, pipeline), nil
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin account",
		Example: `  audiogate admin create --username ops --email ops@example.com --password secret
  audiogate admin create --username ops --email ops@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(username, email, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Admin username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

// promptPassword reads a password twice from the terminal when none was given
// on the command line, and enforces the minimum length either way.
func promptPassword(password string) (string, error) {
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return "", fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	return password, nil
}

func runAdminCreate(username, email, password string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	password, err := promptPassword(password)
	if err != nil {
		return err
	}

	docs, keys, err := openStore()
	if err != nil {
		return err
	}
	defer docs.Close()

	ctx := context.Background()
	exists, err := docs.UserExists(ctx, username, email)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("username or email already registered")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		UploadLimit:  model.DefaultUploadLimit,
		IsAdmin:      true,
	}
	if err := docs.CreateUser(ctx, user); err != nil {
		return err
	}

	// Admins get an active key immediately; there is no one above them to
	// activate it.
	key, err := keys.Issue(ctx, user.ID, user.Username)
	if err != nil {
		return err
	}
	if err := keys.Activate(ctx, user.ID); err != nil {
		return err
	}

	fmt.Printf("Created admin %q (id %d)\n", username, user.ID)
	fmt.Printf("  API key: %s (active)\n", key.RawKey)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	docs, _, err := openStore()
	if err != nil {
		return err
	}
	defer docs.Close()

	users, err := docs.ListUsers(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No accounts. Use 'audiogate admin create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-30s %-8s %-6s\n", "ID", "USERNAME", "EMAIL", "ADMIN", "LIMIT")
	for _, u := range users {
		admin := "no"
		if u.IsAdmin {
			admin = "yes"
		}
		fmt.Printf("%-6d %-20s %-30s %-8s %-6d\n", u.ID, u.Username, u.Email, admin, u.UploadLimit)
	}
	return nil
}

// ---------- admin activate-key ----------

func newAdminActivateKeyCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "activate-key",
		Short: "Activate a user's API key",
		Example: `  audiogate admin activate-key --user 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminActivateKey(userID)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User ID whose key to activate (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runAdminActivateKey(userID int64) error {
	docs, keys, err := openStore()
	if err != nil {
		return err
	}
	defer docs.Close()

	if err := keys.Activate(context.Background(), userID); err != nil {
		return fmt.Errorf("activate key for user %d: %w", userID, err)
	}
	fmt.Printf("Activated API key for user %d\n", userID)
	return nil
}

// ---------- admin reset-password ----------

func newAdminResetPasswordCmd() *cobra.Command {
	var (
		userID   int64
		password string
	)

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset a user's password",
		Example: `  audiogate admin reset-password --user 3  # prompts for the new password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminResetPassword(userID, password)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User ID whose password to reset (required)")
	cmd.Flags().StringVar(&password, "password", "", "New password (prompted if omitted)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runAdminResetPassword(userID int64, password string) error {
	password, err := promptPassword(password)
	if err != nil {
		return err
	}

	docs, _, err := openStore()
	if err != nil {
		return err
	}
	defer docs.Close()

	ctx := context.Background()
	user, err := docs.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user %d: %w", userID, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := docs.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	fmt.Printf("Password reset for %q (id %d)\n", user.Username, user.ID)
	return nil
}
