package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"storyscan/internal/config"
	"storyscan/internal/snapshot"
	"storyscan/internal/store"
)

func main() {
	var (
		feedName = flag.String("feed", "", "feed to export (default: all feeds)")
		out      = flag.String("out", "", "output path (default: the feed's configured snapshot path)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: export-snapshot [flags] <config.toml>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *out != "" && *feedName == "" {
		log.Fatal("--out needs --feed")
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg.DBFile)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	for _, feed := range cfg.Feeds {
		if *feedName != "" && feed.Name != *feedName {
			continue
		}
		feedID, err := st.AddFeed(ctx, feed.Name, feed.Tags)
		if err != nil {
			log.Fatalf("feed %s: %v", feed.Name, err)
		}
		path := cfg.SnapshotPath(feed)
		if *out != "" {
			path = *out
		}
		if err := snapshot.Save(ctx, st, feedID, path); err != nil {
			log.Fatalf("export %s: %v", feed.Name, err)
		}
		log.Printf("exported feed %s to %s", feed.Name, path)
	}
}
