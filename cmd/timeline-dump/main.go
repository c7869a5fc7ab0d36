package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-graphviz"

	"github.com/astromechza/timeline/pkg/server"
	"github.com/astromechza/timeline/pkg/timeline"
	"github.com/astromechza/timeline/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mainInner logs every stored timeline from a server database and writes a dot
// graph per owner to stdout.
func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the server database to read")
	}
	if _, err := os.Stat(flag.Arg(0)); err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	store, err := server.OpenStore(flag.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListTimelines(context.Background())
	if err != nil {
		return err
	}
	slog.Info("loaded timelines", "count", len(items))
	for _, item := range items {
		slog.Info("timeline", "uid", item.Owner.UID, "email", item.Owner.Email, "entries", len(item.Document.Entries), "updated", item.Document.UpdatedAt)
		slog.Info("preview", "uid", item.Owner.UID, "text", timeline.Preview(item.Document.Entries))
		if err := viz.Render(item.Document.Entries, graphviz.XDOT, os.Stdout); err != nil {
			return fmt.Errorf("failed to render %s: %w", item.Owner.UID, err)
		}
	}
	return nil
}
