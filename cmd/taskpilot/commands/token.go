package commands

import (
	"time"

	"github.com/spf13/cobra"
)

var tokenSubject string

// NewTokenCmd creates the token command
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token for HTTP callers",
		Long: `Mint a short-lived bearer token signed with AUTH_JWT_SECRET. Callers
present it as "Authorization: Bearer <token>" against the HTTP API.

Examples:
  taskpilot token --subject ci-pipeline`,
		RunE: runToken,
	}

	cmd.Flags().StringVar(&tokenSubject, "subject", "", "Subject claim identifying the caller (required)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	_, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	token, expiresAt, err := deps.Auth.Mint(tokenSubject)
	if err != nil {
		return err
	}

	cmd.Println(token)
	cmd.Printf("Expires: %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
