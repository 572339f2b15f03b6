/**
 * @description
 * Bulk event loader for development and demos. Reads processor events from a
 * JSONL file (one event per line) and posts each one to the ingestion
 * endpoint, then prints a summary splitting newly created events from
 * duplicates. Ingestion is idempotent, so re-running the loader is safe.
 *
 * Usage:
 *   go run ./cmd/seed -file events/events.jsonl -api http://localhost:8080
 */

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		file    = flag.String("file", "events/events.jsonl", "path to the JSONL events file")
		apiBase = flag.String("api", "http://localhost:8080", "base URL of the ledger service")
	)
	flag.Parse()

	events, err := readEvents(*file)
	if err != nil {
		log.Fatalf("level=fatal component=seed msg=\"failed to read events file\" file=%s err=%v", *file, err)
	}
	log.Printf("level=info component=seed msg=\"events loaded\" file=%s count=%d", *file, len(events))

	client := &http.Client{Timeout: 10 * time.Second}

	if err := checkHealth(client, *apiBase); err != nil {
		log.Fatalf("level=fatal component=seed msg=\"service is not reachable\" api=%s err=%v", *apiBase, err)
	}

	var created, duplicates, failed int
	for i, event := range events {
		status, err := sendEvent(client, *apiBase, event)
		switch {
		case err != nil:
			failed++
			log.Printf("level=error component=seed msg=\"send failed\" index=%d err=%v", i+1, err)
		case status == http.StatusCreated:
			created++
		case status == http.StatusOK:
			duplicates++
		default:
			failed++
			log.Printf("level=warn component=seed msg=\"event rejected\" index=%d status=%d", i+1, status)
		}
	}

	fmt.Printf("total=%d created=%d duplicates=%d failed=%d\n", len(events), created, duplicates, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// readEvents parses the JSONL file, skipping blank lines. Each line must be a
// standalone JSON object; malformed lines abort the run before anything is
// sent.
func readEvents(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("line %d is not valid JSON", line)
		}
		events = append(events, json.RawMessage(raw))
	}
	return events, scanner.Err()
}

func checkHealth(client *http.Client, apiBase string) error {
	resp, err := client.Get(strings.TrimRight(apiBase, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func sendEvent(client *http.Client, apiBase string, event json.RawMessage) (int, error) {
	resp, err := client.Post(
		strings.TrimRight(apiBase, "/")+"/v1/processor/events",
		"application/json",
		bytes.NewReader(event),
	)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
