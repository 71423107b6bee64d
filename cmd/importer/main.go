package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/importer"
	"storefront-checkout/internal/money"
	"storefront-checkout/internal/repository/session"
	cartsvc "storefront-checkout/internal/service/cart"

	"github.com/google/uuid"
)

func main() {
	var (
		filePath  string
		sessionID string
	)
	flag.StringVar(&filePath, "file", "", "Path to a cart CSV (productId,variantId,quantity,unitPrice,size,color,name)")
	flag.StringVar(&sessionID, "session", "", "Client session to import into; a new one is created when empty")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cfg := config.FromEnv()
	logger := log.New(os.Stderr, "[importer] ", log.LstdFlags|log.LUTC|log.Lshortfile)
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

	f, err := os.Open(filePath)
	if err != nil {
		logger.Fatalf("open file: %v", err)
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, cartsvc.New(session.NewStore(repo)), sessionID)

	start := time.Now()
	res, err := imp.Run(ctx)
	if err != nil {
		logger.Fatalf("import failed: %v", err)
	}

	fmt.Printf("Imported %d rows into session %s (%d lines, subtotal %s) in %s\n",
		res.Rows, sessionID, res.Lines, money.Format(res.Cart.SubtotalCents()), time.Since(start).Truncate(time.Millisecond))
}
