package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"payment_verification_gateway/internal/source"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var credentialsFile, tokenFile string

	cmd := &cobra.Command{
		Use:   "gmailauth",
		Short: "Authorise the gateway to read bank alerts from Gmail",
		Long: `Runs the OAuth consent flow for the mailbox that receives bank
credit alerts and stores the resulting token for the gateway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), credentialsFile, tokenFile, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&credentialsFile, "credentials", "credentials.json", "OAuth client credentials file")
	cmd.Flags().StringVar(&tokenFile, "token", "token.json", "Where to write the access token")

	return cmd
}

func run(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) error {
	credentials, err := os.ReadFile(credentialsFile)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	cfg, err := source.OAuthConfig(credentials)
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintln(out, "Authorize this app by visiting this URL:")
	fmt.Fprintln(out, authURL)
	fmt.Fprint(out, "Enter the code from that page here: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := writeToken(tokenFile, token); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token stored to %s\n", tokenFile)
	return nil
}

func writeToken(path string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}
