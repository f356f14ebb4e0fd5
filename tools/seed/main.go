package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	fundsapp "residence-cloud/internal/funds/application"
	funds "residence-cloud/internal/funds/domain"
	fundspostgres "residence-cloud/internal/funds/infrastructure/postgres"
	unitsapp "residence-cloud/internal/units/application"
	units "residence-cloud/internal/units/domain"
	unitspostgres "residence-cloud/internal/units/infrastructure/postgres"
)

type config struct {
	dsn          string
	baseURL      string
	token        string
	unitPrefix   string
	unitCount    int
	funds        string
	deposit      string
	expenseMonth string
	expenses     int
	generateYear int
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.unitCount < 0 {
		log.Fatal("unit-count must be >= 0")
	}
	fundNames := splitList(cfg.funds)
	if len(fundNames) == 0 {
		log.Fatal("funds must name at least one fund")
	}
	deposit, err := decimal.NewFromString(cfg.deposit)
	if err != nil {
		log.Fatalf("invalid deposit: %v", err)
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	logger := zap.NewNop()

	directory, err := unitsapp.NewDirectory(unitspostgres.NewUnitRepository(db), logger)
	if err != nil {
		log.Fatalf("unit directory: %v", err)
	}
	service, err := fundsapp.NewService(fundspostgres.NewLedger(db), fundsapp.Options{}, logger)
	if err != nil {
		log.Fatalf("fund service: %v", err)
	}

	log.Printf("seeding units: prefix=%s count=%d", cfg.unitPrefix, cfg.unitCount)
	created, err := seedUnits(ctx, directory, cfg.unitPrefix, cfg.unitCount)
	if err != nil {
		log.Fatalf("seed units: %v", err)
	}
	log.Printf("units created: %d", created)

	if err := service.EnsureFunds(ctx, fundNames); err != nil {
		log.Fatalf("ensure funds: %v", err)
	}
	if deposit.IsPositive() {
		if err := seedDeposits(ctx, service, fundNames, deposit); err != nil {
			log.Fatalf("seed deposits: %v", err)
		}
	}

	if cfg.expenses > 0 {
		month, err := time.Parse("2006-01", cfg.expenseMonth)
		if err != nil {
			log.Fatalf("invalid expense-month: %v", err)
		}
		log.Printf("seeding expenses: month=%s count=%d fund=%s", cfg.expenseMonth, cfg.expenses, fundNames[0])
		if err := seedExpenses(ctx, service, fundNames[0], month, cfg.expenses); err != nil {
			log.Fatalf("seed expenses: %v", err)
		}
	}

	if cfg.generateYear > 0 {
		if cfg.baseURL == "" || cfg.token == "" {
			log.Fatal("base-url and token are required when generate-year is set")
		}
		log.Printf("generating charges via API: year=%d", cfg.generateYear)
		summary, err := generateCharges(ctx, cfg.baseURL, cfg.token, cfg.generateYear)
		if err != nil {
			log.Fatalf("generate charges: %v", err)
		}
		log.Printf("generation finished: %s", summary)
	}

	log.Printf("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for charge generation")
	flag.StringVar(&cfg.token, "token", envOrDefault("SEED_TOKEN", ""), "bearer token with the admin role")
	flag.StringVar(&cfg.unitPrefix, "unit-prefix", envOrDefault("UNIT_PREFIX", "A-"), "unit number prefix")
	flag.IntVar(&cfg.unitCount, "unit-count", envOrInt("UNIT_COUNT", 20), "number of units to register")
	flag.StringVar(&cfg.funds, "funds", envOrDefault("BILLING_FUNDS", "operating,reserve"), "comma separated fund names")
	flag.StringVar(&cfg.deposit, "deposit", envOrDefault("SEED_DEPOSIT", "0"), "opening deposit per fund")
	flag.StringVar(&cfg.expenseMonth, "expense-month", envOrDefault("EXPENSE_MONTH", time.Now().UTC().Format("2006-01")), "month for seeded expenses (YYYY-MM)")
	flag.IntVar(&cfg.expenses, "expenses", envOrInt("EXPENSES", 0), "number of expenses to record")
	flag.IntVar(&cfg.generateYear, "generate-year", envOrInt("GENERATE_YEAR", 0), "year to generate charges for via API")
	flag.Parse()
	return cfg
}

func seedUnits(ctx context.Context, directory *unitsapp.Directory, prefix string, count int) (int, error) {
	created := 0
	for i := 1; i <= count; i++ {
		number := fmt.Sprintf("%s%03d", prefix, i)
		_, err := directory.Register(ctx, number, "")
		if errors.Is(err, units.ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("unit %s: %w", number, err)
		}
		created++
	}
	return created, nil
}

func seedDeposits(ctx context.Context, service *fundsapp.Service, names []string, amount decimal.Decimal) error {
	for _, name := range names {
		reference := "seed-opening-" + name
		_, err := service.Deposit(ctx, name, amount, reference, "opening balance")
		if errors.Is(err, funds.ErrDuplicateDeposit) {
			log.Printf("deposit %s already applied", reference)
			continue
		}
		if err != nil {
			return fmt.Errorf("deposit %s: %w", name, err)
		}
	}
	return nil
}

var expenseCategories = []string{"maintenance", "cleaning", "utilities", "security"}

func seedExpenses(ctx context.Context, service *fundsapp.Service, fund string, month time.Time, count int) error {
	days := time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	for i := 0; i < count; i++ {
		category := expenseCategories[i%len(expenseCategories)]
		input := fundsapp.ExpenseInput{
			Fund:       fund,
			Concept:    fmt.Sprintf("%s #%d", category, i+1),
			Category:   category,
			Amount:     decimal.NewFromInt(int64(50 + 25*(i%8))),
			IncurredAt: month.AddDate(0, 0, i%days).Add(12 * time.Hour),
		}
		if _, err := service.RecordExpense(ctx, input); err != nil {
			return fmt.Errorf("expense %d: %w", i+1, err)
		}
	}
	return nil
}

func generateCharges(ctx context.Context, baseURL, token string, year int) (string, error) {
	payload, err := json.Marshal(map[string]any{"year": year})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/api/v1/charges/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var result struct {
		Succeeded   []json.RawMessage `json:"succeeded"`
		FailedCount int               `json:"failed_count"`
		Message     string            `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return fmt.Sprintf("created=%d failed=%d %s", len(result.Succeeded), result.FailedCount, result.Message), nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
