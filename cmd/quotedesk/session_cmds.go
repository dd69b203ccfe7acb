package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
	signupName    string
	signupOrg     string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an identity and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrPrompt(cmd)
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(c *client) error {
			ident, err := c.users.Register(cmd.Context(), user.RegisterInput{
				Email:    loginEmail,
				Password: password,
				Name:     signupName,
			})
			if err != nil {
				return err
			}
			if signupOrg != "" {
				o, _, err := c.orgs.Create(cmd.Context(), org.CreateOrganizationInput{Name: signupOrg}, ident.ID)
				if err != nil {
					return err
				}
				c.record(o.ID, ident.ID, "organization.create", "organization", o.ID)
			}
			if err := c.sessions.SignIn(cmd.Context(), loginEmail, password); err != nil {
				return err
			}
			printWhoami(cmd.OutOrStdout(), c.sessions.State())
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and select an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrPrompt(cmd)
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(c *client) error {
			if err := c.sessions.SignIn(cmd.Context(), loginEmail, password); err != nil {
				if errors.Is(err, session.ErrInvalidCredentials) {
					return errors.New("invalid email or password")
				}
				return err
			}
			st := c.sessions.State()
			if !st.SignedIn() {
				return errors.New("sign in failed: account has no profile")
			}
			if st.Organization != nil {
				c.record(st.Organization.ID, st.Identity.ID, "organization.switch", "organization", st.Organization.ID)
			}
			printWhoami(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the selected organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			c.sessions.SignOut(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity, active organization and capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			st := c.sessions.State()
			if !st.SignedIn() {
				if st.Err != nil {
					return fmt.Errorf("not signed in (%s): %w", st.Mode, st.Err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			printWhoami(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{signupCmd, loginCmd} {
		cmd.Flags().StringVar(&loginEmail, "email", "", "account email")
		cmd.Flags().StringVar(&loginPassword, "password", "", "account password (prompted when omitted)")
		_ = cmd.MarkFlagRequired("email")
	}
	signupCmd.Flags().StringVar(&signupName, "name", "", "display name")
	signupCmd.Flags().StringVar(&signupOrg, "org", "", "create an organization with this name")
	_ = signupCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
}

func passwordFromFlagOrPrompt(cmd *cobra.Command) (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	return readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
}

func printWhoami(w io.Writer, st session.State) {
	if !st.SignedIn() {
		fmt.Fprintln(w, "Not signed in.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Identity:\t%s <%s>\n", st.Identity.Name, st.Identity.Email)
	if st.Organization == nil {
		fmt.Fprintf(tw, "Organization:\tnone (%d memberships)\n", len(st.Memberships))
		return
	}
	fmt.Fprintf(tw, "Organization:\t%s (%s)\n", st.Organization.Name, st.Organization.ID)
	fmt.Fprintf(tw, "Role:\t%s\n", st.Membership.Role)
	fmt.Fprintf(tw, "Capabilities:\t%s\n", strings.Join(capabilityNames(*st.Capabilities), ", "))
}

// capabilityNames lists the granted capabilities in a fixed order.
func capabilityNames(s capability.Set) []string {
	flags := []struct {
		name string
		on   bool
	}{
		{"create quotes", s.CreateQuotes},
		{"approve quotes", s.ApproveQuotes},
		{"send quotes", s.SendQuotes},
		{"manage products", s.ManageProducts},
		{"manage clients", s.ManageClients},
		{"view dashboard", s.ViewDashboard},
		{"manage users", s.ManageUsers},
		{"view audit log", s.ViewAuditLog},
	}
	var out []string
	for _, f := range flags {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}
