package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/spf13/cobra"
)

var (
	quoteStatus   string
	quoteLimit    int
	quoteClient   string
	quoteItems    []string
	quoteDiscount float64
	quoteTerms    string
	quoteNotes    string
	quoteValidFor int
	rejectReason  string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Work with quotes in the active organization",
}

var quoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quotes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			quotes, next, err := c.quotes.List(cmd.Context(), actor, quote.ListParams{
				Status: quote.Status(quoteStatus),
				Limit:  quoteLimit,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tID\tCLIENT\tSTATUS\tTOTAL\tACTIONS")
			for _, q := range quotes {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\n", q.Number, q.ID, q.ClientID, q.Status, q.Total,
					joinActions(quote.AvailableActions(q, actor.Capabilities, actor.ID)))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if next != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(more quotes available)")
			}
			return nil
		})
	},
}

var quoteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a quote",
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(quoteItems)
		if err != nil {
			return err
		}
		in := quote.CreateQuoteInput{
			ClientID: quoteClient,
			Items:    items,
			Discount: quoteDiscount,
			Terms:    quoteTerms,
			Notes:    quoteNotes,
		}
		if quoteValidFor > 0 {
			until := time.Now().AddDate(0, 0, quoteValidFor)
			in.ValidUntil = &until
		}

		return withClient(cmd.Context(), func(c *client) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			q, err := c.quotes.Create(cmd.Context(), actor, in)
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), q, actor)
			return nil
		})
	},
}

var quoteShowCmd = &cobra.Command{
	Use:   "show <quote-id>",
	Short: "Show a quote with its line items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			q, err := c.quotes.Get(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), q, actor)
			return nil
		})
	},
}

var quoteDeleteCmd = &cobra.Command{
	Use:   "delete <quote-id>",
	Short: "Delete a quote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(c *client) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			if err := c.quotes.Delete(cmd.Context(), actor, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
			return nil
		})
	},
}

// actionCmd builds a command that applies one lifecycle action to a quote.
func actionCmd(use, short string, apply func(ctx context.Context, c *client, actor quote.Actor, id string) (*quote.Quote, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <quote-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				q, err := apply(cmd.Context(), c, actor, args[0])
				if err != nil {
					return err
				}
				printQuote(cmd.OutOrStdout(), q, actor)
				return nil
			})
		},
	}
}

func transition(trigger quote.Trigger) func(context.Context, *client, quote.Actor, string) (*quote.Quote, error) {
	return func(ctx context.Context, c *client, actor quote.Actor, id string) (*quote.Quote, error) {
		reason := ""
		if trigger == quote.TriggerReject {
			reason = rejectReason
		}
		return c.quotes.Transition(ctx, actor, id, trigger, reason)
	}
}

func init() {
	quoteListCmd.Flags().StringVar(&quoteStatus, "status", "", "only quotes in this status")
	quoteListCmd.Flags().IntVar(&quoteLimit, "limit", 20, "maximum number of quotes")

	quoteCreateCmd.Flags().StringVar(&quoteClient, "client", "", "client id")
	quoteCreateCmd.Flags().StringArrayVar(&quoteItems, "item", nil, `line item as "description:quantity:unit_price" (repeatable)`)
	quoteCreateCmd.Flags().Float64Var(&quoteDiscount, "discount", 0, "discount amount")
	quoteCreateCmd.Flags().StringVar(&quoteTerms, "terms", "", "terms (defaults to the organization's payment terms)")
	quoteCreateCmd.Flags().StringVar(&quoteNotes, "notes", "", "free-form notes")
	quoteCreateCmd.Flags().IntVar(&quoteValidFor, "valid-days", 0, "days the quote is valid (defaults to the organization setting)")
	_ = quoteCreateCmd.MarkFlagRequired("client")

	rejectCmd := actionCmd("reject", "Reject a quote pending approval", transition(quote.TriggerReject))
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason added to the notes")

	quoteCmd.AddCommand(
		quoteListCmd,
		quoteCreateCmd,
		quoteShowCmd,
		quoteDeleteCmd,
		actionCmd("submit", "Submit a draft for approval", transition(quote.TriggerSubmit)),
		actionCmd("approve", "Approve a quote pending approval", transition(quote.TriggerApprove)),
		rejectCmd,
		actionCmd("send", "Mark an approved quote as sent", transition(quote.TriggerSend)),
		actionCmd("reopen", "Return a rejected quote to draft", func(ctx context.Context, c *client, actor quote.Actor, id string) (*quote.Quote, error) {
			return c.quotes.Reopen(ctx, actor, id)
		}),
	)
	rootCmd.AddCommand(quoteCmd)
}

// parseItems parses "description:quantity:unit_price" values. The
// description may itself contain colons.
func parseItems(raw []string) ([]quote.LineItemInput, error) {
	items := make([]quote.LineItemInput, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("item %q: want description:quantity:unit_price", r)
		}
		n := len(parts)
		qty, err := strconv.ParseFloat(strings.TrimSpace(parts[n-2]), 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: invalid quantity: %w", r, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(parts[n-1]), 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: invalid unit price: %w", r, err)
		}
		items = append(items, quote.LineItemInput{
			Description: strings.TrimSpace(strings.Join(parts[:n-2], ":")),
			Quantity:    qty,
			UnitPrice:   price,
		})
	}
	return items, nil
}

func joinActions(actions []quote.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ",")
}

func printQuote(w io.Writer, q *quote.Quote, actor quote.Actor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Quote:\t#%d (%s)\n", q.Number, q.ID)
	fmt.Fprintf(tw, "Client:\t%s\n", q.ClientID)
	fmt.Fprintf(tw, "Status:\t%s\n", q.Status)
	for _, it := range q.Items {
		fmt.Fprintf(tw, "  %d.\t%s\t%g x %.2f\t= %.2f\n", it.Position, it.Description, it.Quantity, it.UnitPrice, it.Total)
	}
	fmt.Fprintf(tw, "Subtotal:\t%.2f\n", q.Subtotal)
	fmt.Fprintf(tw, "Discount:\t%.2f\n", q.Discount)
	fmt.Fprintf(tw, "Tax:\t%.2f\n", q.Tax)
	fmt.Fprintf(tw, "Total:\t%.2f\n", q.Total)
	if q.ValidUntil != nil {
		fmt.Fprintf(tw, "Valid until:\t%s\n", q.ValidUntil.Format("2006-01-02"))
	}
	if q.Terms != "" {
		fmt.Fprintf(tw, "Terms:\t%s\n", q.Terms)
	}
	if q.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", q.Notes)
	}
	fmt.Fprintf(tw, "Actions:\t%s\n", joinActions(quote.AvailableActions(q, actor.Capabilities, actor.ID)))
}
