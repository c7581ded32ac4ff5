package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"dex-console/pkg/confirm"
	"dex-console/pkg/quotes"
	"dex-console/pkg/safety"
	"dex-console/pkg/types"
)

func banner(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	pad := (width - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	color.Green(strings.Repeat(" ", pad) + title)
	fmt.Println(strings.Repeat("=", width))
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func displayQuotes(set *quotes.Set, intent types.TradeIntent) {
	qs := set.Quotes()
	selected, _ := set.Selected()
	best := quotes.Best(qs)

	banner(fmt.Sprintf("QUOTES  %s %s -> %s", intent.FromAmount, intent.FromToken, shortToken(intent.ToToken)), 90)
	fmt.Printf("\n  %-3s %-18s %-8s %22s %10s %10s  %s\n", "", "DEX", "VERSION", "OUTPUT", "IMPACT", "GAS", "ROUTE")
	fmt.Println("  " + strings.Repeat("-", 86))

	for i, q := range qs {
		marker := "  "
		if q.QuoteID == selected.QuoteID {
			marker = color.CyanString("> ")
		}
		output := q.OutputAmount.String()
		if i == best {
			output = color.GreenString("%22s", output)
		} else {
			output = fmt.Sprintf("%22s", output)
		}
		fmt.Printf("  %s  %-18s %-8s %s %10s %10s  %s\n",
			marker,
			q.Dex,
			q.Version,
			output,
			optional(q.PriceImpactPercent, "%.2f%%"),
			optional(q.GasCostUSD, "$%.2f"),
			color.HiBlackString(strings.Join(shortRoute(q.Route), " > ")))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\n%d quotes, fetched %s\n\n", len(qs), set.FetchedAt().Format("15:04:05"))
}

func shortToken(token string) string {
	if len(token) > 14 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return token
}

func shortRoute(route []string) []string {
	out := make([]string, len(route))
	for i, hop := range route {
		out[i] = shortToken(hop)
	}
	return out
}

func riskBadge(r types.RiskSnapshot) string {
	label := fmt.Sprintf(" %s %d/100 ", strings.ToUpper(string(r.Category)), r.Score)
	switch {
	case !r.Tradeable:
		return color.New(color.BgRed, color.FgWhite, color.Bold).Sprint(" NOT TRADEABLE ") + " " + label
	case r.Score >= 70:
		return color.New(color.BgGreen, color.FgBlack).Sprint(label)
	case r.Score >= 30:
		return color.New(color.BgYellow, color.FgBlack).Sprint(label)
	default:
		return color.New(color.BgRed, color.FgWhite).Sprint(label)
	}
}

func severityMark(s safety.Severity) string {
	switch s {
	case safety.SeveritySuccess:
		return color.GreenString("✓")
	case safety.SeverityWarning:
		return color.YellowString("!")
	case safety.SeverityError:
		return color.RedString("✗")
	default:
		return color.CyanString("i")
	}
}

func displayReview(t confirm.Ticket) {
	banner("CONFIRM SWAP", 70)

	fmt.Printf("\n  Trace:             %s\n", color.HiBlackString(t.TraceID.Short()))
	fmt.Printf("  Chain:             %s\n", t.Intent.Chain)
	fmt.Printf("  You pay:           %s %s\n", t.Intent.FromAmount, color.YellowString(t.Intent.FromToken))
	fmt.Printf("  You receive:       ~%s %s\n", t.Quote.OutputAmount, color.YellowString(shortToken(t.Intent.ToToken)))
	fmt.Printf("  Via:               %s %s\n", t.Quote.Dex, t.Quote.Version)
	fmt.Printf("  Slippage:          %s%%\n", t.Intent.Slippage)
	fmt.Printf("  Gas preference:    %s\n", t.Intent.GasPreference)
	if t.Gas != nil {
		fmt.Printf("  Estimated gas:     $%.2f (%.1f gwei)\n", t.Gas.GasUSD, t.Gas.GasPriceGwei)
	}
	if t.Balance != nil {
		fmt.Printf("  Balance:           %s %s\n", t.Balance, t.Intent.FromToken)
	}
	if t.Risk != nil {
		fmt.Printf("  Token risk:        %s\n", riskBadge(*t.Risk))
		for _, concern := range t.Risk.PrimaryConcerns {
			fmt.Printf("                     - %s\n", concern)
		}
	}

	color.Cyan("\n  Safety checks")
	for _, c := range t.Checks {
		fmt.Printf("    %s %s\n", severityMark(c.Severity), c.Message)
	}
	displayNotices(t.Notices)

	fmt.Println("\n" + strings.Repeat("=", 70))
}

func displayNotices(notices []confirm.Notice) {
	if len(notices) == 0 {
		return
	}
	color.Cyan("\n  Notices")
	for _, n := range notices {
		fmt.Printf("    %s %s\n", severityMark(n.Severity), n.Message)
	}
}
