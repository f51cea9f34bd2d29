package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/rbac"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCanCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can-call [contact-id]",
		Short: "Ask the guard whether a contact may be called now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			res, err := c.CanCall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Allowed {
				fmt.Fprintln(out, "allowed")
				return nil
			}
			fmt.Fprintf(out, "refused: %s", res.Reason)
			if res.LastCallerID != "" {
				fmt.Fprintf(out, " (last caller %s", res.LastCallerID)
				if res.LastCallTime != nil {
					fmt.Fprintf(out, " at %s", res.LastCallTime.Format(time.RFC3339))
				}
				fmt.Fprint(out, ")")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [attempt-id]",
		Short: "Show the live status of a call attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ATTEMPT\t%s\n", st.CallAttemptID)
			fmt.Fprintf(w, "CONTACT\t%s\n", st.ContactID)
			fmt.Fprintf(w, "CALLER\t%s\n", st.CallerID)
			fmt.Fprintf(w, "STATE\t%s\n", st.State)
			if st.EndReason != "" {
				fmt.Fprintf(w, "END REASON\t%s\n", st.EndReason)
			}
			fmt.Fprintf(w, "UPDATED\t%s\n", st.UpdatedAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func newReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Release stale contact locks now (supervisor)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			rep, err := c.Reclaim(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d reclaimed=%d failed=%d\n", rep.Scanned, rep.Reclaimed, rep.Failed)
			return nil
		},
	}
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release [contact-id]",
		Short: "Force-release the lock on a contact (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			l, err := c.ForceRelease(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released lock %s on %s (caller %s, attempt %s)\n", l.ID, l.ContactID, l.CallerID, l.CallAttemptID)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token from the shared JWT secret (development)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := flagOrViperString(cmd, "secret", "jwt_secret")
			if strings.TrimSpace(secret) == "" {
				return errors.New("missing --secret (or DIALER_JWT_SECRET)")
			}
			role := flagOrViperString(cmd, "role", "role")
			if !rbac.Known(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			agent := flagOrViperString(cmd, "agent", "agent")
			if agent == "" {
				agent = strings.TrimSpace(viper.GetString("caller-id"))
			}

			m, err := auth.NewManager(config.AuthConfig{
				JWTSecret:      secret,
				JWTIssuer:      flagOrViperString(cmd, "issuer", "jwt_issuer"),
				JWTAudience:    flagOrViperString(cmd, "audience", "jwt_audience"),
				AccessTokenTTL: flagOrViperDuration(cmd, "ttl", "token_ttl"),
			})
			if err != nil {
				return err
			}
			tok, err := m.IssueAccess(time.Now(), auth.Identity{
				AgentID:     agent,
				WorkspaceID: flagOrViperString(cmd, "workspace", "workspace"),
				Role:        role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "JWT secret shared with the API.")
	cmd.Flags().String("issuer", "", "JWT issuer.")
	cmd.Flags().String("audience", "", "JWT audience.")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime.")
	cmd.Flags().String("agent", "", "Agent id (defaults to --caller-id).")
	cmd.Flags().String("workspace", "default", "Workspace id.")
	cmd.Flags().String("role", rbac.RoleAgent, "agent, supervisor, admin or reclaimer.")
	return cmd
}
