// ABOUTME: Minimal peer for E2E testing — opens a session, dumps the graph,
// ABOUTME: and optionally issues a built-in association before watching.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/change"
	"github.com/2389/weft/internal/client"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/sync", "gateway sync endpoint")
	token := flag.String("token", os.Getenv("WEFT_TOKEN"), "session token (or WEFT_TOKEN)")
	associate := flag.String("associate", "", "issue one association: target,source,name")
	interval := flag.Duration("interval", 5*time.Second, "graph print interval")
	flag.Parse()

	if *token == "" {
		log.Fatal("a session token is required (-token or WEFT_TOKEN)")
	}

	if err := run(*url, *token, *associate, *interval); err != nil {
		log.Fatal(err)
	}
}

func run(url, token, associate string, interval time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	conn, err := transport.Dial(ctx, url, token, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	plant := change.NewPlant(access.NewRegistry())
	c := client.New(conn, syncable.NewFactory(), plant, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	select {
	case <-c.Ready():
	case err := <-runErr:
		return fmt.Errorf("session ended before initialize: %w", err)
	case <-time.After(10 * time.Second):
		return errors.New("timed out waiting for initial snapshot")
	}

	fmt.Fprintf(os.Stderr, "session open against %s\n", url)
	printGraph(c)

	if associate != "" {
		if err := issueAssociation(c, associate); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, client.ErrProtocolDesync) {
				return fmt.Errorf("session terminated: %w", err)
			}
			return err
		case <-ticker.C:
			printGraph(c)
		}
	}
}

// issueAssociation parses "target,source,name" refs in type/id form and
// issues the built-in association change.
func issueAssociation(c *client.Client, spec string) error {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return fmt.Errorf("invalid -associate %q (want target,source,name)", spec)
	}

	target, err := parseRef(parts[0])
	if err != nil {
		return err
	}
	source, err := parseRef(parts[1])
	if err != nil {
		return err
	}

	targetObj, err := c.RequireObject(target)
	if err != nil {
		return fmt.Errorf("association target: %w", err)
	}
	sourceObj, err := c.RequireObject(source)
	if err != nil {
		return fmt.Errorf("association source: %w", err)
	}

	packet, err := c.Associate(targetObj, sourceObj, client.AssociateOptions{Name: parts[2]})
	if err != nil {
		return fmt.Errorf("issuing association: %w", err)
	}
	log.Printf("issued %s [%s]", packet.Type, packet.UID)
	return nil
}

func parseRef(s string) (syncable.Ref, error) {
	typeName, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || typeName == "" || id == "" {
		return syncable.Ref{}, fmt.Errorf("invalid ref %q (want type/id)", s)
	}
	return syncable.Ref{Type: typeName, ID: syncable.ID(id)}, nil
}

func printGraph(c *client.Client) {
	objects := c.GetObjects("")
	lines := make([]string, 0, len(objects))
	for _, obj := range objects {
		rec := obj.Syncable()
		lines = append(lines, fmt.Sprintf("  %s fields=%d assocs=%d", rec.Ref(), len(rec.Fields), len(rec.Associations)))
	}
	sort.Strings(lines)

	fmt.Printf("graph: %d records, %d pending\n", len(objects), c.PendingCount())
	for _, line := range lines {
		fmt.Println(line)
	}
}
