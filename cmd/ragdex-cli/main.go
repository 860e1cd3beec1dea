// Command ragdex-cli is the operator console for a running ragdex server:
// index stats, manual sync passes, raw searches and an interactive
// retrieval loop for tuning the pipeline.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

var (
	baseURL = flag.String("url", "http://localhost:8080", "ragdex server base URL")
	apiKey  = flag.String("key", os.Getenv("RAGDEX_API_KEY"), "API key (defaults to RAGDEX_API_KEY)")
	timeout = flag.Duration("timeout", 2*time.Minute, "request timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ragdex-cli [flags] <command>

Commands:
  stats                     show index statistics
  collections               list configured content types and counts
  sync [type [id]]          trigger a full, per-type or single-record sync
  reconcile                 remove orphaned index documents
  purge [type]              clear the whole index or one type
  search <query>            raw similarity search (bypasses the analyzer)
  retrieve                  interactive retrieval loop
  export                    dump indexed documents as plain text
  health                    server health report

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	cli := &client{
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  *apiKey,
		http:    &http.Client{Timeout: *timeout},
	}

	var err error
	switch args[0] {
	case "stats":
		err = cli.stats(ctx)
	case "collections":
		err = cli.collections(ctx)
	case "sync":
		err = cli.sync(ctx, args[1:])
	case "reconcile":
		err = cli.reconcile(ctx)
	case "purge":
		err = cli.purge(ctx, args[1:])
	case "search":
		if len(args) < 2 {
			err = fmt.Errorf("search requires a query")
			break
		}
		err = cli.search(ctx, strings.Join(args[1:], " "))
	case "retrieve":
		err = cli.retrieveLoop(ctx)
	case "export":
		err = cli.export(ctx)
	case "health":
		err = cli.health(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("server answered %s", resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) stats(ctx context.Context) error {
	var resp struct {
		Documents int            `json:"documents"`
		Types     map[string]int `json:"types"`
		LastSync  *time.Time     `json:"last_sync"`
	}
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %d\n", bold("Documents:"), resp.Documents)
	if resp.LastSync != nil {
		fmt.Printf("%s %s\n", bold("Last sync:"), resp.LastSync.Local().Format(time.RFC1123))
	} else {
		fmt.Printf("%s never\n", bold("Last sync:"))
	}

	types := make([]string, 0, len(resp.Types))
	for t := range resp.Types {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-16s %d\n", t, resp.Types[t])
	}
	return nil
}

func (c *client) collections(ctx context.Context) error {
	var resp struct {
		Collections []struct {
			Type      string `json:"type"`
			Label     string `json:"label"`
			Watched   bool   `json:"watched"`
			Documents int    `json:"documents"`
		} `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.Faint).SprintFunc()
	for _, col := range resp.Collections {
		watched := gray("ignored")
		if col.Watched {
			watched = green("watched")
		}
		fmt.Printf("%-12s %-16s %s  %d documents\n", col.Type, col.Label, watched, col.Documents)
	}
	return nil
}

func (c *client) sync(ctx context.Context, args []string) error {
	path := "/sync"
	switch len(args) {
	case 0:
	case 1:
		path = "/sync/" + args[0]
	default:
		path = "/sync/" + args[0] + "/" + args[1]
	}

	if len(args) >= 2 {
		var resp map[string]string
		if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
			return err
		}
		fmt.Printf("Synced %s\n", resp["document_id"])
		return nil
	}

	var report struct {
		Synced int `json:"synced"`
		Errors int `json:"errors"`
		Total  int `json:"total"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &report); err != nil {
		return err
	}
	line := fmt.Sprintf("Synced %d/%d records, %d errors", report.Synced, report.Total, report.Errors)
	if report.Errors > 0 {
		fmt.Println(color.YellowString(line))
	} else {
		fmt.Println(color.GreenString(line))
	}
	return nil
}

func (c *client) reconcile(ctx context.Context) error {
	var report struct {
		Checked  int `json:"checked"`
		Orphans  int `json:"orphans"`
		Removed  int `json:"removed"`
		Failures int `json:"failures"`
	}
	if err := c.do(ctx, http.MethodPost, "/reconcile", nil, &report); err != nil {
		return err
	}
	fmt.Printf("Checked %d documents: %d orphans, %d removed, %d failures\n",
		report.Checked, report.Orphans, report.Removed, report.Failures)
	return nil
}

func (c *client) purge(ctx context.Context, args []string) error {
	path := "/purge"
	target := "the whole index"
	if len(args) > 0 {
		path = "/purge/" + args[0]
		target = "type " + args[0]
	}

	fmt.Printf("About to purge %s. Type 'yes' to confirm: ", target)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	fmt.Println(color.GreenString("Purged %s", target))
	return nil
}

func (c *client) search(ctx context.Context, query string) error {
	var resp struct {
		Results []struct {
			DocumentID string            `json:"document_id"`
			Text       string            `json:"text"`
			Similarity float64           `json:"similarity"`
			Metadata   map[string]string `json:"metadata"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/search", map[string]string{"query": query}, &resp); err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	for i, hit := range resp.Results {
		fmt.Printf("%s %s (%.3f)\n", cyan(fmt.Sprintf("[%d]", i+1)), hit.DocumentID, hit.Similarity)
		fmt.Println(indent(hit.Text))
	}
	return nil
}

func (c *client) retrieveLoop(ctx context.Context) error {
	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &session); err != nil {
		return err
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	gray := color.New(color.Faint).SprintFunc()
	fmt.Printf("Retrieval console, session %s\n", gray(session.SessionID))
	fmt.Println("Type a question and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		utterance := strings.TrimSpace(scanner.Text())
		if utterance == "" {
			continue
		}
		if strings.ToLower(utterance) == "exit" {
			return nil
		}

		var resp struct {
			Context    *string  `json:"context"`
			Retrieved  bool     `json:"retrieved"`
			Degraded   bool     `json:"degraded"`
			Confidence float64  `json:"confidence"`
			Keywords   []string `json:"keywords"`
			Reasoning  string   `json:"reasoning"`
		}
		body := map[string]string{"utterance": utterance, "session_id": session.SessionID}
		if err := c.do(ctx, http.MethodPost, "/retrieve", body, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		switch {
		case resp.Degraded:
			fmt.Println(color.RedString("Pipeline degraded, no context available."))
		case !resp.Retrieved:
			fmt.Printf("%s %s\n", gray("Skipped:"), resp.Reasoning)
		default:
			fmt.Printf("%s %.2f  %s %s\n",
				gray("confidence"), resp.Confidence,
				gray("keywords"), strings.Join(resp.Keywords, ", "))
			if resp.Context != nil {
				fmt.Println(indent(*resp.Context))
			}
		}
		fmt.Println()
	}
}

func (c *client) export(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/export", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func (c *client) health(ctx context.Context) error {
	// Raw request: an unhealthy server answers 503 with the report body.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var report struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decode health report: %w", err)
	}

	statusColor := color.GreenString
	switch report.Status {
	case "degraded":
		statusColor = color.YellowString
	case "error":
		statusColor = color.RedString
	}
	fmt.Printf("Status: %s\n", statusColor(report.Status))

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		if check == "ok" {
			fmt.Printf("  %-12s %s\n", name, color.GreenString(check))
		} else {
			fmt.Printf("  %-12s %s\n", name, color.RedString(check))
		}
	}
	return nil
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}
