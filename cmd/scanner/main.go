package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"storyscan/internal/config"
	"storyscan/internal/fetch"
	"storyscan/internal/scanner"
	"storyscan/internal/store"
	"storyscan/internal/web"
	"storyscan/pkg/database"
)

func main() {
	once := flag.Bool("once", false, "scan every feed once, then exit")
	now := flag.Bool("now", false, "treat every feed as due on startup")
	reset := flag.Bool("reset", false, "drop and recreate all tables before starting")
	runScanner := flag.Bool("scanner", true, "run the feed scanner (false serves data only)")
	forceCache := flag.Bool("force-cache", false, "accept stale pages from intermediate caches")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scanner [flags] <config.toml>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *reset {
		if strings.HasPrefix(cfg.DBFile, "postgres") {
			log.Fatal("--reset only works on sqlite databases")
		}
		db := database.MustOpen(database.Config{Path: cfg.DBFile})
		if err := database.Reset(db); err != nil {
			log.Fatalf("db reset failed: %v", err)
		}
		db.Close()
		log.Println("[scanner] database reset")
	}

	st, err := store.Open(ctx, cfg.DBFile)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	client := fetch.New(cfg.PageProxy, cfg.FetchLimit)
	client.PreferCached = *forceCache

	sc := scanner.New(cfg, st, client.Fetch)
	if err := sc.Init(ctx); err != nil {
		log.Fatalf("scanner init: %v", err)
	}

	if *once {
		sc.RunOnce(ctx)
		return
	}

	srv := web.New(cfg, st, sc)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Run(ctx)
	}()

	if *runScanner {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.Run(ctx, *now)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("stopped")
}
