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
		feedName = flag.String("feed", "", "feed to import (default: all feeds with a snapshot file)")
		in       = flag.String("in", "", "input path (default: the feed's configured snapshot path)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: import-snapshot [flags] <config.toml>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *in != "" && *feedName == "" {
		log.Fatal("--in needs --feed")
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
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
		if *in != "" {
			path = *in
		}
		found, err := snapshot.Load(ctx, st, feedID, path)
		if err != nil {
			log.Fatalf("import %s: %v", feed.Name, err)
		}
		if !found {
			log.Printf("feed %s: no snapshot at %s, skipped", feed.Name, path)
			continue
		}
		log.Printf("imported feed %s from %s", feed.Name, path)
	}
}
