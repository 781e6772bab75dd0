package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-slidecast/internal/bus"
	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/docstore"
	"github.com/loqalabs/loqa-slidecast/internal/msgcache"
	"github.com/loqalabs/loqa-slidecast/internal/protocol"
	"github.com/loqalabs/loqa-slidecast/internal/textnorm"
)

var version = "0.1.0-dev"

const usage = "expected 'validate', 'fingerprint', 'preload', 'publish' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "fingerprint":
		err = runFingerprint(os.Args[2:], os.Stdin, os.Stdout)
	case "preload":
		err = runPreload(os.Args[2:], os.Stdout)
	case "publish":
		err = runPublish(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "slidecast.yaml", "Path to configuration file")
	eventPath := fs.String("event", "", "Optional slide change event JSON to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Fprintln(out, "config valid")
	if *eventPath == "" {
		return nil
	}
	data, err := os.ReadFile(*eventPath)
	if err != nil {
		return err
	}
	if _, err := protocol.DecodeSlideChangeEvent(data); err != nil {
		return err
	}
	fmt.Fprintln(out, "event valid")
	return nil
}

// readContext returns the -context flag, the contents of -file, or stdin, in that order.
func readContext(text, path string, stdin io.Reader) (string, error) {
	if text != "" {
		return text, nil
	}
	if path != "" {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	data, err := io.ReadAll(stdin)
	return string(data), err
}

func splitLanguages(list string) []string {
	var out []string
	for _, lang := range strings.Split(list, ",") {
		if lang = strings.TrimSpace(lang); lang != "" {
			out = append(out, lang)
		}
	}
	return out
}

func runFingerprint(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	text := fs.String("context", "", "Speaker notes text (default: read -file or stdin)")
	path := fs.String("file", "", "File with speaker notes")
	languages := fs.String("languages", "", "Comma separated languages to print cache keys for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := readContext(*text, *path, stdin)
	if err != nil {
		return err
	}
	normalized := textnorm.Normalize(raw)
	fp := textnorm.Fingerprint(normalized)
	fmt.Fprintf(out, "normalized: %q\n", normalized)
	fmt.Fprintf(out, "fingerprint: %s\n", fp)
	for _, lang := range splitLanguages(*languages) {
		fmt.Fprintf(out, "cache key %s: %s\n", lang, msgcache.Key(lang, fp))
	}
	return nil
}

// runPreload stores a prepared message for each language so the broadcaster
// serves it without calling the generator.
func runPreload(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("preload", flag.ContinueOnError)
	configPath := fs.String("config", "slidecast.yaml", "Path to configuration file")
	text := fs.String("context", "", "Speaker notes the message belongs to")
	path := fs.String("file", "", "File with speaker notes")
	languages := fs.String("languages", "", "Comma separated languages")
	message := fs.String("message", "", "Message text to store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	langs := splitLanguages(*languages)
	if len(langs) == 0 || strings.TrimSpace(*message) == "" {
		return fmt.Errorf("preload requires -languages and -message")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	raw, err := readContext(*text, *path, strings.NewReader(""))
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs, err := docstore.Open(ctx, cfg.DocStore, logger)
	if err != nil {
		return err
	}
	defer docs.Close()
	cache, err := msgcache.New(cfg.Cache, docs)
	if err != nil {
		return err
	}
	if closer, ok := cache.(io.Closer); ok {
		defer closer.Close()
	}

	normalized := textnorm.Normalize(raw)
	for _, lang := range langs {
		entry := msgcache.NewEntry(lang, normalized, strings.TrimSpace(*message))
		if err := cache.Put(ctx, entry); err != nil {
			return fmt.Errorf("preload %s: %w", lang, err)
		}
		fmt.Fprintf(out, "stored %s\n", msgcache.Key(lang, entry.ContextHash))
	}
	return nil
}

// runPublish sends an event file to the ingest subject and prints the ack.
func runPublish(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	configPath := fs.String("config", "slidecast.yaml", "Path to configuration file")
	eventPath := fs.String("event", "", "Slide change event JSON file")
	timeout := fs.Duration("timeout", 2*time.Minute, "How long to wait for the acknowledgement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eventPath == "" {
		return fmt.Errorf("publish requires -event")
	}
	data, err := os.ReadFile(*eventPath)
	if err != nil {
		return err
	}
	if _, err := protocol.DecodeSlideChangeEvent(data); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := bus.Connect(ctx, cfg.Bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Conn().RequestWithContext(ctx, cfg.Ingest.Subject, data)
	if err != nil {
		return fmt.Errorf("publish %s: %w", cfg.Ingest.Subject, err)
	}
	_, err = out.Write(append(reply.Data, '\n'))
	return err
}
