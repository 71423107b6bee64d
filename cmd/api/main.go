package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/httpserver"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/postal"
	"storefront-checkout/internal/repository/session"
	"storefront-checkout/internal/service/address"
	"storefront-checkout/internal/service/card"
	cartsvc "storefront-checkout/internal/service/cart"
	"storefront-checkout/internal/service/coupon"
	"storefront-checkout/internal/service/order"
	"storefront-checkout/internal/service/payment"
	"storefront-checkout/internal/service/shipping"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	repo, closeStore, err := session.Open(ctx, session.Options{
		Kind:          cfg.SessionStore,
		DSN:           cfg.DBConnString,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		TTL:           cfg.SessionTTL,
	})
	if err != nil {
		logger.Fatalf("open session store: %v", err)
	}
	defer closeStore()
	store := session.NewStore(repo)

	m := metrics.New()
	api := backend.New(cfg.BackendURL, cfg.RequestTimeout, nil, logger)
	lookup := postal.New(cfg.PostalLookupURL, cfg.RequestTimeout, nil)

	pkg := shipping.DefaultPackage()
	pkg.UnitWeightGrams = cfg.ShippingUnitWeightGrams
	pkg.Box = backend.Dimensions{Length: cfg.ShippingBoxCM[0], Width: cfg.ShippingBoxCM[1], Height: cfg.ShippingBoxCM[2]}

	deps := checkout.Deps{
		Addresses: address.New(api, lookup, m, logger),
		Shipping:  shipping.New(api, pkg, m, logger),
		Coupons:   coupon.New(api, logger),
		Cards:     card.New(api),
		Payments: payment.New(api, payment.Config{
			Gateway:          cfg.PaymentGateway,
			ArtifactAttempts: cfg.ArtifactAttempts,
			ArtifactDelay:    cfg.ArtifactDelay,
			FallbackExpiry:   cfg.FallbackExpiry,
		}, logger),
		Cart:    cartsvc.New(store),
		Handles: store,
		Metrics: m,
		Logger:  logger,
	}
	mgr := checkout.NewManager(deps, checkout.Config{
		PollInterval:               cfg.PollInterval,
		InstantTransferPollTimeout: cfg.InstantTransferPollTimeout,
		CardPollTimeout:            cfg.CardPollTimeout,
		PollMaxFailures:            cfg.PollMaxFailures,
	}, func() checkout.OrderCreator {
		return order.New(api, logger)
	})

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Sessions:       httpserver.Sessions(mgr),
		Store:          store,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	defer stopPurge()
	go purgeLoop(purgeCtx, repo, mgr, cfg, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s (session store %s)", cfg.HTTPAddr, cfg.SessionStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
	mgr.Shutdown()
}

// purgeLoop evicts idle orchestrators every few minutes and drops stored
// sessions older than the session TTL once an hour.
func purgeLoop(ctx context.Context, repo session.Repository, mgr *checkout.Manager, cfg config.Config, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	lastPurge := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mgr.EvictIdle(cfg.SessionIdleTimeout)
			if now.Sub(lastPurge) < time.Hour {
				continue
			}
			lastPurge = now
			n, err := repo.Purge(ctx, cfg.SessionTTL)
			if err != nil {
				logger.Printf("purge sessions: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("purged %d idle sessions", n)
			}
		}
	}
}
