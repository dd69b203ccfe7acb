package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/alecgard/quotedesk/internal/org"
	"github.com/spf13/cobra"
)

var (
	orgTaxRate      float64
	orgPaymentTerms string
	orgValidityDays int
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "List, switch and create organizations",
}

var orgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organizations you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			if _, err := c.requireIdentity(); err != nil {
				return err
			}
			// Memberships are reloaded even when the active organization
			// can no longer be activated.
			if err := c.sessions.Refresh(cmd.Context()); err != nil {
				slog.Warn("refreshing active organization", "error", err)
			}
			st := c.sessions.State()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "\tID\tNAME\tROLE\tSTATUS")
			for _, m := range st.Memberships {
				marker := ""
				if st.Organization != nil && st.Organization.ID == m.OrganizationID {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, m.OrganizationID, m.OrganizationName, m.Role, m.Status)
			}
			return nil
		})
	},
}

var orgSwitchCmd = &cobra.Command{
	Use:   "switch <organization-id>",
	Short: "Make an organization active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			ident, err := c.requireIdentity()
			if err != nil {
				return err
			}
			if err := c.sessions.SwitchOrganization(cmd.Context(), args[0]); err != nil {
				return err
			}
			c.record(args[0], ident.ID, "organization.switch", "organization", args[0])
			printWhoami(cmd.OutOrStdout(), c.sessions.State())
			return nil
		})
	},
}

var orgCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an organization, become its admin and switch to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			ident, err := c.requireIdentity()
			if err != nil {
				return err
			}
			o, _, err := c.orgs.Create(cmd.Context(), org.CreateOrganizationInput{
				Name: args[0],
				Settings: org.Settings{
					TaxRate:      orgTaxRate,
					PaymentTerms: orgPaymentTerms,
					ValidityDays: orgValidityDays,
				},
			}, ident.ID)
			if err != nil {
				return err
			}
			c.record(o.ID, ident.ID, "organization.create", "organization", o.ID)

			// The new membership is only switchable once the list is reloaded.
			if err := c.sessions.Refresh(cmd.Context()); err != nil {
				return err
			}
			if err := c.sessions.SwitchOrganization(cmd.Context(), o.ID); err != nil {
				return err
			}
			printWhoami(cmd.OutOrStdout(), c.sessions.State())
			return nil
		})
	},
}

func init() {
	orgCreateCmd.Flags().Float64Var(&orgTaxRate, "tax-rate", 0, "tax rate in percent")
	orgCreateCmd.Flags().StringVar(&orgPaymentTerms, "payment-terms", "", "default payment terms")
	orgCreateCmd.Flags().IntVar(&orgValidityDays, "validity-days", 30, "default quote validity in days")

	orgCmd.AddCommand(orgListCmd, orgSwitchCmd, orgCreateCmd)
	rootCmd.AddCommand(orgCmd)
}
