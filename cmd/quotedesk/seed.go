package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/config"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo organization with an admin, a manager and an agent",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "quotedesk-demo", "password for the demo users")
	rootCmd.AddCommand(seedCmd)
}

type demoUser struct {
	email string
	name  string
	role  capability.Role
}

var demoUsers = []demoUser{
	{email: "admin@demo.quotedesk.dev", name: "Ada Admin", role: capability.RoleAdmin},
	{email: "manager@demo.quotedesk.dev", name: "Max Manager", role: capability.RoleManager},
	{email: "agent@demo.quotedesk.dev", name: "Alex Agent", role: capability.RoleAgent},
}

var demoSettings = org.Settings{
	TaxRate:      21,
	PaymentTerms: "Net 30",
	ValidityDays: 30,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := user.NewStore(pool, cfg.Session.Duration)
	orgs := org.NewService(org.NewStore(pool))

	// Check if seed has already run.
	if _, err := users.GetByEmail(ctx, demoUsers[0].email); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("checking existing users: %w", err)
	}

	var o *org.Organization
	for _, du := range demoUsers {
		ident, err := users.Register(ctx, user.RegisterInput{Email: du.email, Password: seedPassword, Name: du.name})
		if err != nil {
			return fmt.Errorf("creating user %s: %w", du.email, err)
		}
		slog.Info("created user", "email", ident.Email, "id", ident.ID)

		if o == nil {
			o, _, err = orgs.Create(ctx, org.CreateOrganizationInput{Name: "Demo Sales", Settings: demoSettings}, ident.ID)
			if err != nil {
				return fmt.Errorf("creating organization: %w", err)
			}
			slog.Info("created organization", "name", o.Name, "id", o.ID)
			continue
		}
		if _, err := orgs.AddMember(ctx, o.ID, ident.ID, du.role, org.StatusActive); err != nil {
			return fmt.Errorf("adding %s as %s: %w", du.email, du.role, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Demo Data Seeded ===\n")
	fmt.Fprintf(out, "Organization: %s (%s)\n", o.Name, o.ID)
	for _, du := range demoUsers {
		fmt.Fprintf(out, "  %-8s %s\n", du.role, du.email)
	}
	fmt.Fprintf(out, "Password:     %s\n", seedPassword)
	fmt.Fprintf(out, "\nTry it:\n")
	fmt.Fprintf(out, "  quotedesk login --email %s\n", demoUsers[2].email)
	fmt.Fprintf(out, "  quotedesk quote create --client acme --item 'Consulting:10:120'\n")
	return nil
}
