package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alexjbarnes/deck-sync/internal/collab"
	"github.com/alexjbarnes/deck-sync/internal/collection"
	"github.com/alexjbarnes/deck-sync/internal/config"
	"github.com/alexjbarnes/deck-sync/internal/logging"
	"github.com/alexjbarnes/deck-sync/internal/media"
	"github.com/alexjbarnes/deck-sync/internal/state"
)

var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `deck-sync %s

Usage:
  deck-sync pull                     pull and apply updates for all subscriptions
  deck-sync add <deck-hash>          subscribe to a deck and install it
  deck-sync list                     print subscription state
  deck-sync export-media [flags]     copy media referenced by a deck file

export-media flags:
  -deck <file>    serialized deck tree (JSON)
  -src <dir>      collection media directory
  -out <dir>      target directory
  -audio-only     only export audio files
`, Version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "pull":
		return runPull(ctx, cfg, logger, "")
	case "add":
		if len(args) != 1 || args[0] == "" {
			return fmt.Errorf("usage: deck-sync add <deck-hash>")
		}

		return runAdd(ctx, cfg, logger, args[0])
	case "list":
		return runList(cfg)
	case "export-media":
		return runExportMedia(ctx, cfg, logger, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runPull(ctx context.Context, cfg *config.Config, logger *slog.Logger, focusHash string) error {
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	client := collab.NewClient(cfg.ServerURL, &http.Client{Timeout: cfg.PullTimeout})
	decider := &terminalDecider{in: bufio.NewScanner(os.Stdin)}
	col := collection.NewMemory()
	rec := collab.NewReconciler(col, decider, logger)
	mgr := collab.NewManager(store, client, rec, decider, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = mgr.Run(runCtx) }()

	outcome, err := mgr.Pull(ctx, focusHash)
	if err != nil {
		return err
	}

	if outcome.UpToDate {
		fmt.Println("You're already up-to-date!")
		return nil
	}

	for _, res := range outcome.Results {
		fmt.Printf("%s: %s\n", res.DeckName, describeResult(res))
	}

	return nil
}

func describeResult(res collab.UpdateResult) string {
	if res.Installed {
		return "installed"
	}

	switch res.Choice {
	case collab.ChoiceAccept:
		return "updated"
	case collab.ChoicePostpone:
		return "postponed"
	case collab.ChoiceAbort:
		return "skipped"
	default:
		return "unknown"
	}
}

func runAdd(ctx context.Context, cfg *config.Config, logger *slog.Logger, deckHash string) error {
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return err
	}

	if err := store.Add(deckHash); err != nil {
		store.Close()
		return err
	}

	store.Close()

	logger.Info("subscription added", slog.String("deck_hash", deckHash))

	// Focused pull installs the deck right away.
	return runPull(ctx, cfg, logger, deckHash)
}

func runList(cfg *config.Config) error {
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.Load()
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Println("no subscriptions")
		return nil
	}

	hashes := make([]string, 0, len(subs))
	for hash := range subs {
		hashes = append(hashes, hash)
	}

	sort.Strings(hashes)

	for _, hash := range hashes {
		sub := subs[hash]

		status := "pending install"
		if sub.Installed() {
			status = fmt.Sprintf("deck %d, last sync %s", sub.DeckID, sub.Timestamp)
		}

		fmt.Printf("%s  %s\n", hash, status)

		if tags := sub.EnabledTags(); len(tags) > 0 {
			fmt.Printf("    optional tags: %s\n", strings.Join(tags, ", "))
		}
	}

	return nil
}

func runExportMedia(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export-media", flag.ContinueOnError)
	deckFile := fs.String("deck", "", "serialized deck tree (JSON)")
	srcDir := fs.String("src", "", "collection media directory")
	outDir := fs.String("out", "", "target directory")
	audioOnly := fs.Bool("audio-only", false, "only export audio files")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *deckFile == "" || *srcDir == "" || *outDir == "" {
		return fmt.Errorf("export-media requires -deck, -src, and -out")
	}

	raw, err := os.ReadFile(*deckFile)
	if err != nil {
		return fmt.Errorf("reading deck file: %w", err)
	}

	deck, err := collab.ParseDeck(raw)
	if err != nil {
		return fmt.Errorf("parsing deck file: %w", err)
	}

	files := collectMedia(deck)

	opts := []media.Option{media.WithWorkers(cfg.MediaWorkers)}
	if *audioOnly {
		opts = append(opts, media.WithAudioOnly())
	}

	exporter := media.NewExporter(*srcDir, *outDir, logger, opts...)

	count, err := exporter.Export(ctx, files)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d media files\n", count)

	return nil
}

// collectMedia gathers the deck tree's declared media list plus every
// file referenced from note fields.
func collectMedia(deck *collab.Deck) []string {
	seen := make(map[string]struct{})

	var files []string

	var walk func(d *collab.Deck)
	walk = func(d *collab.Deck) {
		for _, name := range d.Media {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				files = append(files, name)
			}
		}

		for _, n := range d.Notes {
			for _, name := range media.ReferencedFiles(n.FieldValues) {
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					files = append(files, name)
				}
			}
		}

		for _, child := range d.Children {
			walk(child)
		}
	}

	walk(deck)

	return files
}

// terminalDecider answers the engine's decision callbacks with stdin
// prompts. Host applications replace this with real dialogs.
type terminalDecider struct {
	in *bufio.Scanner
}

func (t *terminalDecider) ConfirmChangelog(_ context.Context, deckHash, changelog string) (collab.Choice, error) {
	fmt.Printf("\nUpdate available for %s\n", deckHash)

	if changelog != "" {
		fmt.Printf("Changelog:\n%s\n", changelog)
	}

	for {
		fmt.Print("Apply update? [y]es / [l]ater / [n]ever: ")

		if !t.in.Scan() {
			return collab.ChoicePostpone, t.in.Err()
		}

		switch strings.ToLower(strings.TrimSpace(t.in.Text())) {
		case "y", "yes":
			return collab.ChoiceAccept, nil
		case "l", "later":
			return collab.ChoicePostpone, nil
		case "n", "never":
			return collab.ChoiceAbort, nil
		}
	}
}

func (t *terminalDecider) SelectOptionalTags(_ context.Context, deckHash string, current, offered map[string]bool) (map[string]bool, error) {
	fmt.Printf("\nOptional tags changed for %s\n", deckHash)

	names := make([]string, 0, len(offered))
	for name := range offered {
		names = append(names, name)
	}

	sort.Strings(names)

	selected := make(map[string]bool, len(offered))

	for _, name := range names {
		def := "n"
		if current[name] {
			def = "y"
		}

		fmt.Printf("Enable tag %q? [y/n] (default %s): ", name, def)

		answer := def
		if t.in.Scan() {
			if text := strings.ToLower(strings.TrimSpace(t.in.Text())); text != "" {
				answer = text
			}
		}

		selected[name] = answer == "y" || answer == "yes"
	}

	return selected, nil
}

func (t *terminalDecider) RemapNotes(_ context.Context, oldModel collection.Record, noteIDs []int64) error {
	fmt.Printf("\nNote type %q changed structurally; %d notes need remapping.\n", oldModel.Name(), len(noteIDs))
	fmt.Println("The previous note type was kept under its new name. Remap the notes in your host application, then press Enter.")
	t.in.Scan()

	return t.in.Err()
}
