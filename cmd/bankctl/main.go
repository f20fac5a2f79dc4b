// Command bankctl performs deposit account operations from the command
// line: opening accounts, booking movements, and paging listings. It is an
// operator tool; routine traffic goes through the service API.
//
// Usage:
//
//	bankctl open   --holder NAME --currency EUR
//	bankctl credit --account UUID --amount 25.00 [--ref TEXT]
//	bankctl debit  --account UUID --amount 25.00 [--ref TEXT]
//	bankctl close  --account UUID
//	bankctl get    --account UUID
//	bankctl list   [--order-by created_at|holder] [--desc] [--after CURSOR] [--limit N]
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
	"github.com/prettysheep-coder/bankcore/internal/app"
	"github.com/prettysheep-coder/bankcore/internal/authz"
	"github.com/prettysheep-coder/bankcore/internal/config"
	"github.com/prettysheep-coder/bankcore/internal/core/outbox"
	"github.com/prettysheep-coder/bankcore/internal/deposit"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: bankctl <open|credit|debit|close|get|list> [flags]")
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()
	ob := outbox.New(pool, clock, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	svc := deposit.NewService(
		logger,
		deposit.NewRepo(pool, clock),
		postgres.NewTxManager(pool),
		ob,
		authz.AllowAll{},
	)

	if err := run(ctx, svc, command, args); err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func run(ctx context.Context, svc *deposit.Service, command string, args []string) error {
	switch command {
	case "open":
		fs := flag.NewFlagSet("open", flag.ExitOnError)
		holder := fs.String("holder", "", "account holder name")
		currency := fs.String("currency", "", "ISO 4217 currency code")
		_ = fs.Parse(args)

		account, err := svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: *holder, Currency: *currency})
		if err != nil {
			return err
		}
		printAccount(account)
		return nil

	case "credit", "debit":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		accountFlag := fs.String("account", "", "account id")
		amountFlag := fs.String("amount", "", "decimal amount")
		ref := fs.String("ref", "", "booking reference")
		_ = fs.Parse(args)

		id, err := uuid.Parse(*accountFlag)
		if err != nil {
			return fmt.Errorf("--account: %w", err)
		}
		amount, err := decimal.NewFromString(*amountFlag)
		if err != nil {
			return fmt.Errorf("--amount: %w", err)
		}

		var account *deposit.Account
		if command == "credit" {
			account, err = svc.Credit(ctx, deposit.CreditInput{AccountID: id, Amount: amount, Ref: *ref})
		} else {
			account, err = svc.Debit(ctx, deposit.DebitInput{AccountID: id, Amount: amount, Ref: *ref})
		}
		if err != nil {
			return err
		}
		printAccount(account)
		return nil

	case "close":
		fs := flag.NewFlagSet("close", flag.ExitOnError)
		accountFlag := fs.String("account", "", "account id")
		_ = fs.Parse(args)

		id, err := uuid.Parse(*accountFlag)
		if err != nil {
			return fmt.Errorf("--account: %w", err)
		}
		return svc.CloseAccount(ctx, id)

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		accountFlag := fs.String("account", "", "account id")
		_ = fs.Parse(args)

		id, err := uuid.Parse(*accountFlag)
		if err != nil {
			return fmt.Errorf("--account: %w", err)
		}
		account, err := svc.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		printAccount(account)
		return nil

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		orderBy := fs.String("order-by", "created_at", "ordering: created_at or holder")
		desc := fs.Bool("desc", false, "descending order")
		after := fs.String("after", "", "resume cursor from a previous page")
		limit := fs.Int("limit", 50, "page size")
		_ = fs.Parse(args)

		page, err := svc.ListAccounts(ctx, deposit.ListAccountsInput{
			OrderBy: deposit.ListOrder(*orderBy),
			Desc:    *desc,
			After:   *after,
			Limit:   *limit,
		})
		if err != nil {
			return err
		}
		for _, account := range page.Items {
			printAccount(account)
		}
		if page.NextCursor != "" {
			fmt.Printf("next: --after %s\n", page.NextCursor)
		}
		return nil

	default:
		return fmt.Errorf("unknown command (want open, credit, debit, close, get, or list)")
	}
}

func printAccount(a *deposit.Account) {
	fmt.Printf("%s  %-20s %s %s  %s\n",
		a.EntityID(), a.Holder, a.Balance.StringFixed(2), a.Currency, a.Status)
}
