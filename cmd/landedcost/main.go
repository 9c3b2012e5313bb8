// landedcost computes the landed cost of imported goods from the command line.
//
// Usage:
//
//	landedcost calc --hsn 73182100 --fob 350 [options]
//	landedcost lookup --hsn 73182100 --tariff tariff.yaml
//	landedcost rate
//	landedcost watch --redis-addr localhost:6379
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/maltedev/landed-cost/internal/config"
	"github.com/maltedev/landed-cost/internal/database"
	"github.com/maltedev/landed-cost/internal/events"
	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/importcost"
	"github.com/maltedev/landed-cost/internal/landedcost"
	"github.com/maltedev/landed-cost/internal/ratelimit"
	"github.com/maltedev/landed-cost/internal/report"
	"github.com/maltedev/landed-cost/internal/tariff"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "landedcost",
		Usage:   "Landed cost of imports into India by HSN code",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text, json)",
				EnvVars: []string{"LOG_FORMAT"},
			},
		},

		Commands: []*cli.Command{
			calcCommand(),
			lookupCommand(),
			rateCommand(),
			watchCommand(),
		},
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	return config.LoggingConfig{
		Level:  c.String("log-level"),
		Format: c.String("log-format"),
	}.NewLogger(c.App.ErrWriter)
}

// =============================================================================
// SHARED FLAGS
// =============================================================================

func tariffFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "tariff",
			Usage:   "Path to the YAML tariff table",
			EnvVars: []string{"TARIFF_TABLE_PATH"},
		},
		&cli.StringFlag{
			Name:    "policy",
			Value:   "default",
			Usage:   "Fallback policy for missing rates (default, zero)",
			EnvVars: []string{"FALLBACK_POLICY"},
		},
	}
}

func rateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "fixer-key",
			Usage:   "Fixer.io API key",
			EnvVars: []string{"FIXER_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "fixer-url",
			Value:   fx.DefaultFixerBaseURL,
			Usage:   "Fixer.io base URL",
			EnvVars: []string{"FIXER_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "buffer",
			Value:   fx.DefaultBuffer.StringFixed(2),
			Usage:   "INR added to the market rate",
			EnvVars: []string{"FX_BUFFER_INR"},
		},
	}
}

func loadTariffs(c *cli.Context, logger *slog.Logger) (*tariff.Table, error) {
	path := c.String("tariff")
	if path == "" {
		logger.Warn("no tariff table given, every rate falls back to the policy")
		return tariff.NewTable(nil), nil
	}
	return tariff.LoadTable(path)
}

// unavailableProvider stands in when no Fixer key is configured.
type unavailableProvider struct{}

func (unavailableProvider) USDToINR(context.Context) (fx.Rate, error) {
	return fx.Rate{}, errors.New("no exchange rate source: pass --rate or set FIXER_API_KEY")
}

func newProvider(c *cli.Context, logger *slog.Logger) fx.Provider {
	if c.String("fixer-key") == "" {
		return unavailableProvider{}
	}
	return fx.NewFixerClient(fx.FixerOptions{
		BaseURL: c.String("fixer-url"),
		APIKey:  c.String("fixer-key"),
		Timeout: 10 * time.Second,
		Limiter: ratelimit.Unlimited{},
	}, logger)
}

func newService(c *cli.Context, logger *slog.Logger) (*importcost.Service, error) {
	policy, err := tariff.PolicyByName(c.String("policy"))
	if err != nil {
		return nil, err
	}
	buffer, err := parseDecimal("buffer", c.String("buffer"))
	if err != nil {
		return nil, err
	}
	table, err := loadTariffs(c, logger)
	if err != nil {
		return nil, err
	}
	return importcost.NewService(table, newProvider(c, logger), nil, importcost.Config{
		Policy: policy,
		Buffer: buffer,
	}, logger), nil
}

func parseDecimal(flag, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("--%s: %q is not a number", flag, value)
	}
	return d, nil
}

// =============================================================================
// CALC COMMAND
// =============================================================================

func calcCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "hsn",
			Usage:    "HSN code (2, 4, 6 or 8 digits)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "fob",
			Usage:    "FOB price in USD",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "freight",
			Value: importcost.DefaultFreightInsurancePercent.String(),
			Usage: "Freight and insurance as percent of FOB",
		},
		&cli.StringFlag{
			Name:  "rate",
			Usage: "USD to INR rate; fetched from Fixer.io when omitted",
		},
		&cli.BoolFlag{
			Name:  "rate-final",
			Usage: "Use --rate as given, without the buffer",
		},
		&cli.StringFlag{Name: "bcd", Usage: "Basic customs duty, e.g. 7.5%"},
		&cli.StringFlag{Name: "swc", Usage: "Social welfare surcharge, e.g. 10%"},
		&cli.StringFlag{Name: "igst", Usage: "Integrated GST, e.g. 18%"},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   "text",
			Usage:   "Output format (text, csv, json)",
		},
	}
	flags = append(flags, tariffFlags()...)
	flags = append(flags, rateFlags()...)

	return &cli.Command{
		Name:   "calc",
		Usage:  "Calculate the landed cost for one item",
		Flags:  flags,
		Action: runCalc,
	}
}

func runCalc(c *cli.Context) error {
	logger := newLogger(c)

	format := c.String("format")
	switch format {
	case "text", "csv", "json":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	service, err := newService(c, logger)
	if err != nil {
		return err
	}

	req := importcost.Request{
		HSNCode:     strings.TrimSpace(c.String("hsn")),
		RateIsFinal: c.Bool("rate-final"),
	}
	if req.FOBPriceUSD, err = parseDecimal("fob", c.String("fob")); err != nil {
		return err
	}
	if req.FreightInsurancePercent, err = parseDecimal("freight", c.String("freight")); err != nil {
		return err
	}
	if c.IsSet("rate") {
		rate, err := parseDecimal("rate", c.String("rate"))
		if err != nil {
			return err
		}
		req.ExchangeRate = &rate
	}
	if c.IsSet("bcd") || c.IsSet("swc") || c.IsSet("igst") {
		req.Rates = &tariff.RawRates{BCD: c.String("bcd"), SWC: c.String("swc"), IGST: c.String("igst")}
	}

	result, err := service.Quote(c.Context, req)
	if err != nil {
		return err
	}

	if len(result.Rates.Fallbacks) > 0 {
		logger.Warn("fallback rates applied",
			"hsn_code", result.HSNCode,
			"rates", strings.Join(result.Rates.Fallbacks, ","))
	}

	out := c.App.Writer
	rep := report.Report{
		HSNCode:      result.HSNCode,
		Breakdown:    result.Breakdown,
		ExchangeRate: result.ExchangeRate,
		GeneratedAt:  result.CreatedAt,
	}
	switch format {
	case "csv":
		return report.WriteCSV(out, rep)
	case "json":
		return writeJSON(out, result)
	default:
		return report.WriteText(out, rep)
	}
}

// =============================================================================
// LOOKUP COMMAND
// =============================================================================

func lookupCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "hsn",
			Usage:    "HSN code (2, 4, 6 or 8 digits)",
			Required: true,
		},
	}
	return &cli.Command{
		Name:   "lookup",
		Usage:  "Show the duty rates that apply to an HSN code",
		Flags:  append(flags, tariffFlags()...),
		Action: runLookup,
	}
}

func runLookup(c *cli.Context) error {
	logger := newLogger(c)

	hsn := strings.TrimSpace(c.String("hsn"))
	if err := tariff.ValidateHSN(hsn); err != nil {
		return err
	}
	policy, err := tariff.PolicyByName(c.String("policy"))
	if err != nil {
		return err
	}
	table, err := loadTariffs(c, logger)
	if err != nil {
		return err
	}

	var res tariff.Resolution
	raw, err := table.Lookup(c.Context, hsn)
	switch {
	case errors.Is(err, tariff.ErrNotFound):
		res = tariff.FallbackResolution(policy)
	case err != nil:
		return err
	default:
		res = tariff.Resolve(raw, policy)
	}

	fallback := make(map[string]bool, len(res.Fallbacks))
	for _, name := range res.Fallbacks {
		fallback[name] = true
	}

	out := c.App.Writer
	fmt.Fprintf(out, "HSN %s (fallback policy %s)\n", hsn, policy.Name)
	for _, r := range []struct {
		name  string
		raw   string
		value decimal.Decimal
	}{
		{tariff.RateBCD, raw.BCD, res.Rates.BCD},
		{tariff.RateSWC, raw.SWC, res.Rates.SWC},
		{tariff.RateIGST, raw.IGST, res.Rates.IGST},
	} {
		note := ""
		if fallback[r.name] {
			note = "  (fallback)"
		}
		fmt.Fprintf(out, "  %-5s %-10q %6s%%%s\n", strings.ToUpper(r.name), r.raw, r.value.String(), note)
	}
	return nil
}

// =============================================================================
// RATE COMMAND
// =============================================================================

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:   "rate",
		Usage:  "Show the buffered USD to INR rate",
		Flags:  rateFlags(),
		Action: runRate,
	}
}

func runRate(c *cli.Context) error {
	logger := newLogger(c)

	buffer, err := parseDecimal("buffer", c.String("buffer"))
	if err != nil {
		return err
	}

	rate, err := newProvider(c, logger).USDToINR(c.Context)
	if err != nil {
		return err
	}
	q := fx.ApplyBuffer(rate, buffer)

	out := c.App.Writer
	fmt.Fprintf(out, "Base rate:  %s (%s)\n", q.Base.StringFixed(4), q.Source)
	fmt.Fprintf(out, "Buffer:     %s\n", report.FormatAmount(q.Buffer, landedcost.INR))
	fmt.Fprintf(out, "Final rate: %s\n", q.Final.StringFixed(4))
	return nil
}

// =============================================================================
// WATCH COMMAND
// =============================================================================

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print calculations as the API records them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-addr",
				Value:   "localhost:6379",
				Usage:   "Redis address",
				EnvVars: []string{"REDIS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{"REDIS_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "stream",
				Value: database.DefaultTargetStream,
				Usage: "Stream the relay publishes to",
			},
			&cli.StringFlag{
				Name:  "group",
				Value: "landedcost-watch",
				Usage: "Consumer group",
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	logger := newLogger(c)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.String("redis-addr"),
		Password: c.String("redis-password"),
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	hostname, _ := os.Hostname()
	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: c.String("stream"),
		Group:  c.String("group"),
		Name:   fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}, logger)

	out := c.App.Writer
	err := consumer.Run(ctx, func(_ context.Context, p events.CalculationRecordedPayload) error {
		return printRecorded(out, p)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printRecorded(w io.Writer, p events.CalculationRecordedPayload) error {
	_, err := fmt.Fprintf(w, "%s  %s  HSN %s  FOB %s  landed %s\n",
		p.Timestamp.Format(time.RFC3339),
		p.CalculationID,
		p.HSNCode,
		report.FormatAmount(p.FOBPriceUSD, landedcost.USD),
		report.FormatAmount(p.LandedPriceAtFactory, landedcost.INR))
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
