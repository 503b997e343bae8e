// Command usertier assigns a subscription tier to a user directly in the
// database. It is an operator tool for support cases where a purchase was
// settled out of band.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"keisha/internal/domain"
	"keisha/internal/infra"
	"keisha/internal/sqlinline"
)

func main() {
	var (
		idFlag        string
		emailFlag     string
		tierFlag      string
		keepUsageFlag bool
	)

	flag.StringVar(&idFlag, "id", "", "user ID to update (UUID)")
	flag.StringVar(&emailFlag, "email", "", "user email to update")
	flag.StringVar(&tierFlag, "tier", "monthly", "tier to assign (free, monthly, annual)")
	flag.BoolVar(&keepUsageFlag, "keep-usage", false, "preserve today's usage count instead of resetting it")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	email := strings.TrimSpace(strings.ToLower(emailFlag))
	tier := domain.Tier(strings.TrimSpace(strings.ToLower(tierFlag)))

	if userID == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}
	if !tier.Known() || tier == domain.TierGuest {
		exitWithError(fmt.Errorf("unsupported tier %q", tierFlag))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "usertier").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	lookupCtx, cancelLookup := context.WithTimeout(context.Background(), 5*time.Second)
	var row struct {
		ID           string
		Email        string
		PasswordHash string
		Tier         string
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}
	var scanErr error
	if userID != "" {
		r := runner.QueryRow(lookupCtx, sqlinline.QSelectUserByID, userID)
		scanErr = r.Scan(&row.ID, &row.Email, &row.PasswordHash, &row.Tier, &row.CreatedAt, &row.UpdatedAt)
	} else {
		r := runner.QueryRow(lookupCtx, sqlinline.QSelectUserByEmail, email)
		scanErr = r.Scan(&row.ID, &row.Email, &row.PasswordHash, &row.Tier, &row.CreatedAt, &row.UpdatedAt)
	}
	cancelLookup()
	if scanErr != nil {
		exitWithError(fmt.Errorf("failed to load user: %w", scanErr))
	}

	updateCtx, cancelUpdate := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelUpdate()
	updated := runner.QueryRow(updateCtx, sqlinline.QUpdateUserTier, row.ID, string(tier))
	if err := updated.Scan(&row.ID, &row.Email, &row.PasswordHash, &row.Tier, &row.CreatedAt, &row.UpdatedAt); err != nil {
		exitWithError(fmt.Errorf("failed to update user tier: %w", err))
	}

	if !keepUsageFlag {
		if _, err := runner.Exec(updateCtx, sqlinline.QDeleteUsage, row.ID); err != nil {
			exitWithError(fmt.Errorf("failed to reset usage: %w", err))
		}
	}

	fmt.Printf("User %s (%s) updated to tier %s\n", row.ID, row.Email, row.Tier)
	if limit, ok := domain.LimitFor(tier); ok {
		if limit == domain.UnlimitedDaily {
			fmt.Println("daily_limit=unlimited")
		} else {
			fmt.Printf("daily_limit=%d\n", limit)
		}
	}
	if keepUsageFlag {
		fmt.Println("usage preserved")
	} else {
		fmt.Println("usage reset")
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
