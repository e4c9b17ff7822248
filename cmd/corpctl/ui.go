package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"corpsim/internal/board"
	"corpsim/internal/economy"
	"corpsim/internal/store"
	"corpsim/internal/tick"
	"corpsim/internal/valuation"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type corporationsPayload struct {
	Corporations []store.Corporation `json:"corporations"`
}

type corporationPayload struct {
	Corporation  store.Corporation   `json:"corporation"`
	Shareholders []store.Shareholder `json:"shareholders"`
}

type financialsPayload struct {
	Financials    valuation.Financials    `json:"financials"`
	Units         economy.SectorUnits     `json:"units"`
	ActiveActions []store.CorporateAction `json:"active_actions"`
}

type boardPayload struct {
	Members []string `json:"members"`
}

type ledgerPayload struct {
	Transactions []store.CorporateTransaction `json:"transactions"`
}

type shareHistoryPayload struct {
	History []store.SharePricePoint `json:"history"`
}

type priceHistoryPayload struct {
	History []store.PricePoint `json:"history"`
}

type proposalPayload struct {
	Proposal store.Proposal `json:"proposal"`
	Votes    []store.Vote   `json:"votes"`
}

type proposalsPayload struct {
	Proposals []store.Proposal `json:"proposals"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderMarket(raw map[string]any) error {
	quotes, err := decodeInto[economy.Quotes](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== COMMODITIES ==")
	renderQuoteTable(quotes.Commodities)
	accent.Println("== PRODUCTS ==")
	renderQuoteTable(quotes.Products)
	return nil
}

func renderQuoteTable(rows []economy.PriceResult) {
	fmt.Printf("%-20s %10s %10s %10s %12s %12s\n", "NAME", "BASE", "PRICE", "CHANGE", "SUPPLY", "DEMAND")
	for _, q := range rows {
		fmt.Printf("%-20s %10s %10s %10s %12s %12s\n",
			truncate(q.Name, 20),
			formatMoney(q.BasePrice),
			formatMoney(q.CurrentPrice),
			colorizePercent(q.PriceChange),
			formatQty(q.TotalSupply),
			formatQty(q.TotalDemand),
		)
	}
	fmt.Println()
}

func renderPrice(raw map[string]any) error {
	q, err := decodeInto[economy.PriceResult](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s (%s) ==\n", q.Name, q.Kind)
	fmt.Printf("Price:    %s (base %s, %s)\n", formatMoney(q.CurrentPrice), formatMoney(q.BasePrice), colorizePercent(q.PriceChange))
	fmt.Printf("Supply:   %s\n", formatQty(q.TotalSupply))
	fmt.Printf("Demand:   %s\n", formatQty(q.TotalDemand))
	fmt.Printf("Scarcity: %.4f\n", q.ScarcityFactor)
	renderShares("Top producers", q.TopProducers)
	renderShares("Demanding sectors", q.DemandingSectors)
	fmt.Println()
	return nil
}

func renderShares(title string, rows []economy.SectorShare) {
	if len(rows) == 0 {
		return
	}
	accent.Println(title)
	for _, r := range rows {
		fmt.Printf("  %-22s %12s\n", r.Sector, formatQty(r.Amount))
	}
}

func renderPriceHistory(raw map[string]any) error {
	payload, err := decodeInto[priceHistoryPayload](raw)
	if err != nil {
		return err
	}
	if len(payload.History) == 0 {
		printInfo("No snapshots recorded yet.")
		return nil
	}
	fmt.Printf("%-20s %10s %12s %12s\n", "TIME", "PRICE", "SUPPLY", "DEMAND")
	for _, p := range payload.History {
		fmt.Printf("%-20s %10s %12s %12s\n", formatTime(p.RecordedAt), formatMoney(p.Price), formatQty(p.Supply), formatQty(p.Demand))
	}
	return nil
}

func renderEconomics(raw map[string]any) error {
	e, err := decodeInto[economy.EconomicsResult](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s %s ==\n", e.Sector, e.UnitType)
	fmt.Printf("Revenue/h: %s\n", formatMoney(e.HourlyRevenue))
	fmt.Printf("Cost/h:    %s (labor %s, resources %s, products %s)\n",
		formatMoney(e.HourlyCost), formatMoney(e.LaborCost), formatMoney(e.ResourceCost), formatMoney(e.ProductCost))
	fmt.Printf("Profit/h:  %s\n", colorizeMoney(e.HourlyProfit))
	if e.MarginFloorApplied {
		printWarn("Margin floor applied.")
	}
	renderLineItems("Revenue", e.Revenue)
	renderLineItems("Costs", e.Costs)
	fmt.Println()
	return nil
}

func renderLineItems(title string, items []economy.LineItem) {
	if len(items) == 0 {
		return
	}
	accent.Println(title)
	for _, it := range items {
		fmt.Printf("  %-22s %8.2f x %10s = %10s\n", it.Name, it.Rate, formatMoney(it.Price), formatMoney(it.Amount))
	}
}

func renderCorporations(raw map[string]any) error {
	payload, err := decodeInto[corporationsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== CORPORATIONS ==")
	if len(payload.Corporations) == 0 {
		printInfo("No corporations found.")
		return nil
	}
	fmt.Printf("%-6s %-24s %-16s %14s %10s\n", "ID", "NAME", "SECTOR", "CAPITAL", "PRICE")
	for _, c := range payload.Corporations {
		fmt.Printf("%-6d %-24s %-16s %14s %10s\n", c.ID, truncate(c.Name, 24), truncate(string(c.Sector), 16), formatMoney(c.Capital), formatMoney(c.SharePrice))
	}
	fmt.Println()
	return nil
}

func renderCorporation(raw map[string]any) error {
	payload, err := decodeInto[corporationPayload](raw)
	if err != nil {
		return err
	}
	c := payload.Corporation
	accent.Printf("\n== %s (#%d) ==\n", c.Name, c.ID)
	fmt.Printf("Sector:      %s, HQ %s, focus %s\n", c.Sector, c.HQState, c.Focus)
	fmt.Printf("Capital:     %s\n", formatMoney(c.Capital))
	fmt.Printf("Shares:      %s (%s public) at %s\n", comma(c.Shares), comma(c.PublicShares), formatMoney(c.SharePrice))
	fmt.Printf("CEO:         %s, salary %s per %dh\n", orDash(c.ElectedCEOID), formatMoney(c.CEOSalary), store.SalaryPeriodHours)
	fmt.Printf("Dividend:    %.2f%% of hourly profit\n", c.DividendPercentage)
	fmt.Printf("Board size:  %d\n", c.BoardSize)
	if len(payload.Shareholders) > 0 {
		fmt.Println()
		accent.Println("Shareholders")
		for _, h := range payload.Shareholders {
			fmt.Printf("  %-24s %12s\n", truncate(h.UserID, 24), comma(h.Shares))
		}
	}
	fmt.Println()
	return nil
}

func renderValuation(raw map[string]any) error {
	v, err := decodeInto[valuation.Result](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== VALUATION #%d ==\n", v.CorporationID)
	fmt.Printf("Price:          %s\n", formatMoney(v.CalculatedPrice))
	fmt.Printf("Fundamental:    %s\n", formatMoney(v.FundamentalValue))
	if v.TradeCount > 0 {
		fmt.Printf("Trade weighted: %s over %d trades\n", formatMoney(v.TradeWeightedPrice), v.TradeCount)
	}
	fmt.Printf("Book/share:     %s\n", formatMoney(v.BookValuePerShare))
	fmt.Printf("Earnings value: %s\n", formatMoney(v.EarningsValue))
	fmt.Printf("Dividend value: %s\n", formatMoney(v.DividendValue))
	fmt.Printf("Cash/share:     %s\n", formatMoney(v.CashPerShare))
	fmt.Printf("Profit/h:       %s\n", colorizeMoney(v.HourlyProfit))
	fmt.Println()
	return nil
}

func renderFinancials(raw map[string]any) error {
	payload, err := decodeInto[financialsPayload](raw)
	if err != nil {
		return err
	}
	f := payload.Financials
	accent.Println("\n== HOURLY FINANCIALS ==")
	fmt.Printf("Revenue:     %s\n", formatMoney(f.Revenue))
	fmt.Printf("Cost:        %s\n", formatMoney(f.Cost))
	fmt.Printf("Profit:      %s\n", colorizeMoney(f.Profit))
	fmt.Printf("Asset value: %s\n", formatMoney(f.AssetValue))
	if len(payload.Units) > 0 {
		fmt.Println()
		accent.Println("Units")
		for sector, counts := range payload.Units {
			for unit, n := range counts {
				fmt.Printf("  %-22s %-12s %6d\n", sector, unit, n)
			}
		}
	}
	for _, a := range payload.ActiveActions {
		fmt.Printf("Active: %s until %s\n", a.Type, formatTime(a.ExpiresAt))
	}
	fmt.Println()
	return nil
}

func renderBoard(raw map[string]any) error {
	payload, err := decodeInto[boardPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== BOARD ==")
	for i, m := range payload.Members {
		fmt.Printf("%2d. %s\n", i+1, m)
	}
	fmt.Printf("Majority: %d\n\n", board.Majority(len(payload.Members)))
	return nil
}

func renderLedger(raw map[string]any) error {
	payload, err := decodeInto[ledgerPayload](raw)
	if err != nil {
		return err
	}
	if len(payload.Transactions) == 0 {
		printInfo("No transactions.")
		return nil
	}
	fmt.Printf("%-20s %-18s %-16s %14s\n", "TIME", "KIND", "USER", "AMOUNT")
	for _, t := range payload.Transactions {
		fmt.Printf("%-20s %-18s %-16s %14s\n", formatTime(t.At), t.Kind, truncate(orDash(t.UserID), 16), colorizeMoney(t.Amount))
	}
	return nil
}

func renderShareHistory(raw map[string]any) error {
	payload, err := decodeInto[shareHistoryPayload](raw)
	if err != nil {
		return err
	}
	if len(payload.History) == 0 {
		printInfo("No share price snapshots yet.")
		return nil
	}
	if n := len(payload.History); n > 1 {
		fmt.Printf("Trend (recent): %s\n", colorizeMoney(payload.History[0].Price-payload.History[n-1].Price))
	}
	fmt.Printf("%-20s %10s %14s\n", "TIME", "PRICE", "CAPITAL")
	for _, p := range payload.History {
		fmt.Printf("%-20s %10s %14s\n", formatTime(p.RecordedAt), formatMoney(p.Price), formatMoney(p.Capital))
	}
	return nil
}

func renderProposalCreated(raw map[string]any) error {
	p, err := decodeInto[store.Proposal](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Proposal #%d (%s) created. Voting closes %s.", p.ID, p.Type, formatTime(p.ExpiresAt)))
	return nil
}

func renderProposal(raw map[string]any) error {
	payload, err := decodeInto[proposalPayload](raw)
	if err != nil {
		return err
	}
	p := payload.Proposal
	accent.Printf("\n== PROPOSAL #%d ==\n", p.ID)
	fmt.Printf("Type:     %s\n", p.Type)
	fmt.Printf("Proposer: %s\n", p.ProposerID)
	fmt.Printf("Status:   %s\n", p.Status)
	fmt.Printf("Data:     %s\n", string(p.Data))
	fmt.Printf("Expires:  %s\n", formatTime(p.ExpiresAt))
	for _, v := range payload.Votes {
		fmt.Printf("  %-24s %s\n", truncate(v.VoterID, 24), v.Choice)
	}
	fmt.Println()
	return nil
}

func renderProposalList(raw map[string]any) error {
	payload, err := decodeInto[proposalsPayload](raw)
	if err != nil {
		return err
	}
	if len(payload.Proposals) == 0 {
		printInfo("No expired active proposals.")
		return nil
	}
	fmt.Printf("%-6s %-6s %-18s %-20s\n", "ID", "CORP", "TYPE", "EXPIRED")
	for _, p := range payload.Proposals {
		fmt.Printf("%-6d %-6d %-18s %-20s\n", p.ID, p.CorporationID, p.Type, formatTime(p.ExpiresAt))
	}
	return nil
}

func renderOutcome(raw map[string]any) error {
	out, err := decodeInto[board.Outcome](raw)
	if err != nil {
		return err
	}
	fmt.Printf("Tally: %d aye, %d nay, %d voted\n", out.Tally.Ayes, out.Tally.Nays, out.Tally.Voted)
	switch {
	case !out.Resolved:
		printInfo("Proposal still open.")
	case out.Passed:
		printSuccess(fmt.Sprintf("Proposal #%d passed.", out.Proposal.ID))
	default:
		printWarn(fmt.Sprintf("Proposal #%d failed.", out.Proposal.ID))
	}
	return nil
}

func renderAction(raw map[string]any) error {
	a, err := decodeInto[store.CorporateAction](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("%s active until %s (cost %s).", a.Type, formatTime(a.ExpiresAt), formatMoney(a.Cost)))
	return nil
}

func renderTickReport(kind string, raw map[string]any) error {
	if skipped, _ := raw["skipped"].(bool); skipped {
		printWarn("This time bucket already ran. Use --force to run it again.")
		return nil
	}
	switch kind {
	case tick.KindHourly:
		r, err := decodeInto[tick.HourlyReport](raw)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Hourly tick: %d/%d settled, %d failed, %d prices updated.", r.Settled, r.Corporations, r.Failed, r.PricesUpdated))
		if r.SalariesZeroed > 0 {
			printWarn(fmt.Sprintf("%d CEO salaries zeroed for lack of capital.", r.SalariesZeroed))
		}
	case tick.KindProposalExpiry:
		r, err := decodeInto[tick.SweepReport](raw)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Expiry sweep: %d expired, %d resolved.", r.Result.Expired, r.Result.Resolved))
	default:
		r, err := decodeInto[tick.SnapshotReport](raw)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Snapshot: %d market points, %d share points.", r.PricePoints, r.SharePoints))
	}
	return nil
}

func renderSimpleOK(raw map[string]any, successMessage string) error {
	ok := false
	if v, has := raw["ok"]; has {
		if t, isBool := v.(bool); isBool {
			ok = t
		}
	}
	if ok || successMessage != "" {
		printSuccess(successMessage)
		return nil
	}
	printInfo("Done.")
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeMoney(v float64) string {
	text := formatMoney(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(math.Round(v * 100))
	return fmt.Sprintf("%s$%s.%02d", sign, comma(cents/100), cents%100)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
