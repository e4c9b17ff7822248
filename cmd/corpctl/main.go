package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "corpsim/internal/cli"
	"corpsim/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	requestTimeout = cfg.Timeout
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "corpctl",
		Short:        "Corporate economy simulation client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(cfg),
		newLogoutCmd(),
		newMarketCmd(&apiBase),
		newPriceCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newEconomicsCmd(&apiBase),
		newCorpCmd(&apiBase),
		newProposalCmd(&apiBase),
		newVoteCmd(&apiBase),
		newActionCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) (*cl.Client, cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return nil, sess, err
	}
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), sess), sess, nil
}

var requestTimeout = 30 * time.Second

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func newLoginCmd(cfg config.CLIConfig) *cobra.Command {
	var user, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the operator token and the player to act as",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(user) == "" {
				if user, err = promptRequired("Player ID"); err != nil {
					return err
				}
			}
			if token == "" {
				token = cfg.AdminToken
			}
			if token == "" {
				if token, err = promptRequired("Operator token"); err != nil {
					return err
				}
			}
			if err := cl.SaveSession(cl.Session{Token: token, UserID: strings.TrimSpace(user)}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Acting as %s.", strings.TrimSpace(user)))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "player id")
	cmd.Flags().StringVar(&token, "token", "", "operator bearer token (defaults to CORPSIM_ADMIN_TOKEN)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show every commodity and product price",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.Market(ctx)
			if err != nil {
				return err
			}
			return renderMarket(out)
		},
	}
}

func newPriceCmd(apiBase *string) *cobra.Command {
	var supply, demand float64
	cmd := &cobra.Command{
		Use:   "price [commodity|product] NAME",
		Short: "Quote one commodity or product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := marketKind(args[0])
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			var sp, dp *float64
			if cmd.Flags().Changed("supply") || cmd.Flags().Changed("demand") {
				sp, dp = &supply, &demand
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.Price(ctx, kind, args[1], sp, dp)
			if err != nil {
				return err
			}
			return renderPrice(out)
		},
	}
	cmd.Flags().Float64Var(&supply, "supply", 0, "explicit supply")
	cmd.Flags().Float64Var(&demand, "demand", 0, "explicit demand")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [commodity|product] NAME",
		Short: "Show recorded price snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := marketKind(args[0])
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.PriceHistory(ctx, kind, args[1], limit)
			if err != nil {
				return err
			}
			return renderPriceHistory(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 24, "number of points")
	return cmd
}

func newEconomicsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "economics SECTOR UNIT_TYPE",
		Short: "Show hourly economics of one unit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.UnitEconomics(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return renderEconomics(out)
		},
	}
}

func newCorpCmd(apiBase *string) *cobra.Command {
	corp := &cobra.Command{
		Use:     "corp",
		Short:   "Corporation commands",
		Aliases: []string{"corporation"},
	}
	corp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List corporations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.Corporations(ctx)
			if err != nil {
				return err
			}
			return renderCorporations(out)
		},
	})
	corp.AddCommand(corpReadCmd(apiBase, "show ID", "Show a corporation and its shareholders", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.Corporation(ctx, id)
		if err != nil {
			return err
		}
		return renderCorporation(out)
	}))
	corp.AddCommand(corpReadCmd(apiBase, "valuation ID", "Show the stock price breakdown", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.Valuation(ctx, id)
		if err != nil {
			return err
		}
		return renderValuation(out)
	}))
	corp.AddCommand(corpReadCmd(apiBase, "financials ID", "Show hourly revenue, cost and profit", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.Financials(ctx, id)
		if err != nil {
			return err
		}
		return renderFinancials(out)
	}))
	corp.AddCommand(corpReadCmd(apiBase, "board ID", "Show board members", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.Board(ctx, id)
		if err != nil {
			return err
		}
		return renderBoard(out)
	}))
	corp.AddCommand(corpReadCmd(apiBase, "ledger ID", "Show recent corporate transactions", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.Transactions(ctx, id, 25)
		if err != nil {
			return err
		}
		return renderLedger(out)
	}))
	corp.AddCommand(corpReadCmd(apiBase, "shares ID", "Show share price history", func(ctx context.Context, c *cl.Client, id int64) error {
		out, err := c.ShareHistory(ctx, id, 24)
		if err != nil {
			return err
		}
		return renderShareHistory(out)
	}))
	return corp
}

func corpReadCmd(apiBase *string, use, short string, run func(context.Context, *cl.Client, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Corporation ID")
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			return run(ctx, client, id)
		},
	}
}

func newProposalCmd(apiBase *string) *cobra.Command {
	proposal := &cobra.Command{
		Use:     "proposal",
		Short:   "Board proposal commands",
		Aliases: []string{"proposals"},
	}

	var data []string
	create := &cobra.Command{
		Use:   "create CORP_ID TYPE",
		Short: "Create a board proposal",
		Long:  "Create a board proposal. Payload fields are passed as --data key=value, e.g. --data focus=growth.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid corporation id %q", args[0])
			}
			payload, err := parseKeyValues(data)
			if err != nil {
				return err
			}
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			if err := sess.RequireUser(); err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.CreateProposal(ctx, corpID, args[1], payload)
			if err != nil {
				return err
			}
			return renderProposalCreated(out)
		},
	}
	create.Flags().StringArrayVar(&data, "data", nil, "payload field as key=value")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a proposal and its votes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Proposal ID")
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.Proposal(ctx, id)
			if err != nil {
				return err
			}
			return renderProposal(out)
		},
	}

	proposal.AddCommand(create, show)
	return proposal
}

func newVoteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vote PROPOSAL_ID [aye|nay]",
		Short: "Vote on a board proposal",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Proposal ID")
			if err != nil {
				return err
			}
			var vote string
			if len(args) > 1 {
				vote = strings.ToLower(strings.TrimSpace(args[1]))
			} else if vote, err = promptChoice("Vote", []string{"aye", "nay"}, "aye"); err != nil {
				return err
			}
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			if err := sess.RequireUser(); err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.Vote(ctx, id, vote)
			if err != nil {
				return err
			}
			return renderOutcome(out)
		},
	}
}

func newActionCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "action CORP_ID TYPE",
		Short: "Activate a corporate action as CEO",
		Long:  "Activate a corporate action. Types: marketing_campaign, research_initiative, supply_chain_optimization.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid corporation id %q", args[0])
			}
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			if err := sess.RequireUser(); err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.ActivateAction(ctx, corpID, args[1])
			if err != nil {
				return err
			}
			return renderAction(out)
		},
	}
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}

	var force bool
	tick := &cobra.Command{
		Use:   "tick [hourly|proposal_expiry|price_snapshot]",
		Short: "Run one scheduled tick now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			out, err := client.RunTick(ctx, args[0], force)
			if err != nil {
				return err
			}
			return renderTickReport(args[0], out)
		},
	}
	tick.Flags().BoolVar(&force, "force", false, "run even if this time bucket already ran")

	var random bool
	price := &cobra.Command{
		Use:   "price CORP_ID",
		Short: "Recalculate and store a share price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid corporation id %q", args[0])
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.UpdatePrice(ctx, id, random)
			if err != nil {
				return err
			}
			return renderSimpleOK(out, fmt.Sprintf("Share price now %v.", out["share_price"]))
		},
	}
	price.Flags().BoolVar(&random, "random", false, "apply random variation")

	expired := &cobra.Command{
		Use:   "expired",
		Short: "List active proposals past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.ExpiredProposals(ctx)
			if err != nil {
				return err
			}
			return renderProposalList(out)
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve PROPOSAL_ID",
		Short: "Resolve a proposal by simple majority of votes cast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.ResolveProposal(ctx, id)
			if err != nil {
				return err
			}
			return renderOutcome(out)
		},
	}

	admin.AddCommand(tick, price, expired, resolve, newFlowCmd(apiBase))
	return admin
}

func newFlowCmd(apiBase *string) *cobra.Command {
	var rate float64
	build := func(args []string) (map[string]any, error) {
		kind := strings.ToLower(args[3])
		if kind != "resource" && kind != "product" {
			return nil, fmt.Errorf("kind must be resource or product")
		}
		return map[string]any{
			"sector":    args[0],
			"unit_type": strings.ToLower(args[1]),
			"direction": strings.ToLower(args[2]),
			"kind":      kind,
			"name":      args[4],
			"rate":      rate,
		}, nil
	}
	flow := &cobra.Command{
		Use:   "flow",
		Short: "Edit unit input/output flows",
	}
	add := &cobra.Command{
		Use:   "add SECTOR UNIT_TYPE input|output resource|product NAME",
		Short: "Add a flow",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := build(args)
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if _, err := client.AddFlow(ctx, body); err != nil {
				return err
			}
			printSuccess("Flow added.")
			return nil
		},
	}
	add.Flags().Float64Var(&rate, "rate", 1, "units per hour")
	remove := &cobra.Command{
		Use:   "remove SECTOR UNIT_TYPE input|output resource|product NAME",
		Short: "Remove a flow",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := build(args)
			if err != nil {
				return err
			}
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := client.RemoveFlow(ctx, body)
			if err != nil {
				return err
			}
			return renderSimpleOK(out, "Flow removed.")
		},
	}
	flow.AddCommand(add, remove)
	return flow
}

func marketKind(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "commodity", "commodities", "resource":
		return "commodities", nil
	case "product", "products":
		return "products", nil
	default:
		return "", fmt.Errorf("kind must be commodity or product")
	}
}

// parseKeyValues turns key=value pairs into a payload. Numbers are sent as
// numbers, everything else as strings.
func parseKeyValues(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", p)
		}
		v = strings.TrimSpace(v)
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out, nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s %q", strings.ToLower(label), args[idx])
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
