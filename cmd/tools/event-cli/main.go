package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/mmo-fauna/internal/eventbus"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		url        = flag.String("url", "nats://127.0.0.1:4222", "NATS server URL")
		stream     = flag.String("stream", "FAUNA", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		window     = flag.Duration("for", 0, "Stop after this long (0 = until Ctrl+C)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 = no limit)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*url, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to connect to JetStream: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *window > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *window)
		defer cancel()
	}

	filter := eventbus.Filter{Types: parseStringList(*eventTypes), Sources: []string{eventbus.Source}}

	switch *command {
	case "tail":
		fmt.Printf("🎬 Tailing %s (types: %v, limit: %d)\n", *stream, filter.Types, *limit)
		n, err := consume(ctx, bus, filter, *limit, printEvent)
		if err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}
		fmt.Printf("\n📊 Total events: %d\n", n)

	case "stats":
		counter := newTypeCounter()
		start := time.Now()
		n, err := consume(ctx, bus, filter, *limit, counter.add)
		if err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}
		fmt.Printf("Period: %s - %s\n", start.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat))
		fmt.Printf("Total events: %d\n", n)
		for _, line := range counter.lines() {
			fmt.Println(line)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats")
		os.Exit(1)
	}
}

// consume вызывает fn для каждого события, пока не закончится ctx или лимит.
func consume(ctx context.Context, bus eventbus.EventBus, f eventbus.Filter, limit int, fn func(*eventbus.Envelope)) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	count := 0
	sub, err := bus.Subscribe(ctx, f, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if limit > 0 && count >= limit {
			return
		}
		fn(ev)
		count++
		if limit > 0 && count >= limit {
			cancel()
		}
	})
	if err != nil {
		return 0, err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	mu.Lock()
	defer mu.Unlock()
	return count, nil
}

func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s prio=%d %s\n", ev.Timestamp.Format(timeFormat), ev.EventType, ev.Priority, ev.ID)
	switch ev.EventType {
	case eventbus.TypeCreatureBorn:
		var born eventbus.BornEvent
		if eventbus.Decode(ev, &born) == nil {
			fmt.Printf("  Child: %s Mother: %s Species: %s Domestication: %d\n",
				born.Child, born.Mother, born.Species, born.Domestication)
		}
	case eventbus.TypeCreatureEnraged:
		var enraged eventbus.EnragedEvent
		if eventbus.Decode(ev, &enraged) == nil {
			fmt.Printf("  Creature: %s Attacker: %s Child: %s\n", enraged.Creature, enraged.Attacker, enraged.Child)
		}
	default:
		var h eventbus.HerdEvent
		if eventbus.Decode(ev, &h) == nil && h.HerdID != "" {
			fmt.Printf("  Herd: %s %s/%s members=%d leader=%s\n", h.HerdID, h.World, h.Species, h.Members, h.Leader)
		}
	}
}

// typeCounter счётчик событий по типу.
type typeCounter struct {
	counts map[string]int
}

func newTypeCounter() *typeCounter { return &typeCounter{counts: make(map[string]int)} }

func (c *typeCounter) add(ev *eventbus.Envelope) { c.counts[ev.EventType]++ }

func (c *typeCounter) lines() []string {
	types := make([]string, 0, len(c.counts))
	for t := range c.counts {
		types = append(types, t)
	}
	sort.Strings(types)
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, fmt.Sprintf("  %s: %d events", t, c.counts[t]))
	}
	return out
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
