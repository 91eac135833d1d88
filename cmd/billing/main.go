package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasirbilling/backend/internal/cache"
	"kasirbilling/backend/internal/config"
	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/logging"
	"kasirbilling/backend/internal/service"
	"kasirbilling/backend/internal/store"
	"kasirbilling/backend/internal/store/memory"
	pgstore "kasirbilling/backend/internal/store/postgres"
)

const usage = `usage: billing <command> [args]

commands:
  purchase                    read a purchase request as JSON from stdin
  show <purchase-id>          print a recorded purchase
  history <email> [limit] [offset]
                              list a customer's purchases, newest first
  product <product-id>        print a catalog row with its live stock
  denominations               print the till inventory
  migrate [--seed]            create the postgres schema (DATABASE_URL)
`

var errUsage = errors.New("invalid usage")

type migrator interface {
	Migrate(ctx context.Context) error
	Seed(ctx context.Context) error
}

type app struct {
	svc      *service.Service
	migrator migrator
	in       io.Reader
	out      io.Writer
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closers, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		logger.Error("command failed", zap.Error(err))
		return exitCode(err)
	}
	return 0
}

// build picks the repository and receipt cache from cfg. A configured but
// unreachable database is fatal; an unreachable Redis falls back to no
// caching.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, []func() error, error) {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		repo store.Repository
		mig  migrator
	)
	closers := make([]func() error, 0, 2)

	if cfg.UsePostgres() {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL, pgstore.Options{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		repo = pg
		mig = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	receipts := cache.ReceiptCache(cache.NoopReceiptCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			receipts = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, receipts, logger, service.Config{
		ReceiptTTL:  cfg.ReceiptCacheTTL,
		MaxAttempts: cfg.PurchaseMaxRetries,
	})
	return &app{svc: svc, migrator: mig, in: os.Stdin, out: os.Stdout}, closers, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "purchase":
		var req domain.PurchaseRequest
		dec := json.NewDecoder(a.in)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return fmt.Errorf("%w: decode request: %v", domain.ErrInvalidRequest, err)
		}
		p, err := a.svc.CreatePurchase(ctx, req)
		if err != nil {
			return err
		}
		return a.print(p)

	case "show":
		if len(rest) != 1 {
			return errUsage
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: purchase id %q", errUsage, rest[0])
		}
		p, err := a.svc.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		return a.print(p)

	case "history":
		if len(rest) < 1 || len(rest) > 3 {
			return errUsage
		}
		paging := [2]int{}
		for i, raw := range rest[1:] {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: %q is not a number", errUsage, raw)
			}
			paging[i] = n
		}
		list, err := a.svc.ListCustomerPurchases(ctx, rest[0], paging[0], paging[1])
		if err != nil {
			return err
		}
		return a.print(list)

	case "product":
		if len(rest) != 1 {
			return errUsage
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: product id %q", errUsage, rest[0])
		}
		product, err := a.svc.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		return a.print(product)

	case "denominations":
		denoms, err := a.svc.ListDenominations(ctx)
		if err != nil {
			return err
		}
		return a.print(denoms)

	case "migrate":
		seed := len(rest) == 1 && rest[0] == "--seed"
		if len(rest) > 0 && !seed {
			return errUsage
		}
		if a.migrator == nil {
			return errors.New("migrate needs DATABASE_URL")
		}
		if err := a.migrator.Migrate(ctx); err != nil {
			return err
		}
		if seed {
			return a.migrator.Seed(ctx)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode separates caller mistakes from rejected purchases and from
// infrastructure failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, domain.ErrInvalidRequest):
		return 2
	case domain.IsBusinessRule(err):
		return 3
	default:
		return 1
	}
}
