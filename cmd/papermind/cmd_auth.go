package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"papermind/internal/conversation"
	"papermind/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	authEmail    string
	authPassword string
	authName     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and start a new conversation",
	Long: `Authenticates against the backend and stores the token in the shared
storage directory, so every papermind process picks it up.

The password is read from --password, PAPERMIND_PASSWORD, or the first line
of stdin.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account (does not log in)",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored token in every papermind process",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Validate the stored token and show the account",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func addAuthCommands(root *cobra.Command) {
	loginCmd.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
	loginCmd.Flags().StringVar(&authPassword, "password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")

	registerCmd.Flags().StringVar(&authName, "name", "", "Display name (required)")
	registerCmd.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
	registerCmd.Flags().StringVar(&authPassword, "password", "", "Account password")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("email")

	root.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
}

// readPassword resolves the password from the flag, the environment, or stdin.
func readPassword(in io.Reader) (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	if p := os.Getenv("PAPERMIND_PASSWORD"); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password required (--password, PAPERMIND_PASSWORD or stdin)")
	}
	return line, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Login(ctx, authEmail, password); err != nil {
		return fmt.Errorf("login failed: %s", types.BannerText(err, "Login failed. Please try again."))
	}
	s := a.session.Current()

	// A new login always begins a fresh conversation.
	if err := a.convs.Load(ctx, s.Profile.Email); err != nil {
		logger.Warn("loading conversations", zap.Error(err))
	}
	if _, err := a.pipes.ResetConversation(ctx); err != nil {
		if !errors.Is(err, conversation.ErrIndexNotCleared) {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: failed to clear previous documents")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s <%s>\n", s.Profile.DisplayName(), s.Profile.DisplayEmail())
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.session.Register(ctx, types.Registration{Name: authName, Email: authEmail, Password: password})
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "Account created. Please log in.")
		return nil
	case errors.Is(err, types.ErrDuplicateAccount):
		return errors.New("an account with this email already exists")
	default:
		return fmt.Errorf("registration failed: %s", types.BannerText(err, "Registration failed. Please try again."))
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Logout(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", s.Profile.DisplayName(), s.Profile.DisplayEmail())
	return nil
}
