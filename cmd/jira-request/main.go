// Command jira-request sends one authenticated request to an Atlassian
// cloud instance and pretty-prints the JSON response.
//
// Usage:
//
//	jira-request -creds creds.json get 'https://mycorp.atlassian.net/rest/api/3/project/search?query=KEY'
//
// The credentials file holds the app key and shared secret as JSON:
//
//	{"key": "com.example.app", "secret": "..."}
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/nicholasbishop/atlassian-app-auth/pkg/connect"
	"github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
)

type config struct {
	CredsFile string        `env:"JIRA_CREDS_FILE"`
	TTL       time.Duration `env:"JIRA_TOKEN_TTL" envDefault:"3m"`
	Timeout   time.Duration `env:"JIRA_HTTP_TIMEOUT" envDefault:"30s"`
}

type credsFile struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

func main() {
	// A missing .env file is fine; explicit environment wins either way.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment: %v", err)
	}

	credsPath := flag.String("creds", cfg.CredsFile, "path of the JSON credentials file (or JIRA_CREDS_FILE)")
	ttl := flag.Duration("ttl", cfg.TTL, "token validity window")
	timeout := flag.Duration("timeout", cfg.Timeout, "HTTP request timeout")
	verbose := flag.Bool("v", false, "log the canonical request and query string hash")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	method := strings.ToUpper(flag.Arg(0))
	rawURL := flag.Arg(1)

	if *credsPath == "" {
		log.Fatal("no credentials file: pass -creds or set JIRA_CREDS_FILE")
	}
	creds, err := loadCredentials(*credsPath)
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}

	if *verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		describe(logger, method, rawURL)
	}

	client := &http.Client{
		Timeout: *timeout,
		Transport: &connect.Transport{
			Credentials: creds,
			TTL:         *ttl,
		},
	}

	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		log.Fatalf("invalid request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		log.Fatalf("request failed: %s, body: %s", resp.Status, body)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		log.Fatalf("failed to parse response as JSON: %v", err)
	}
	fmt.Println(pretty.String())
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"usage: %s [flags] <method> <url>\n\nflags:\n", os.Args[0])
	flag.PrintDefaults()
}

func loadCredentials(path string) (connect.Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return connect.Credentials{}, err
	}

	var f credsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return connect.Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}

	creds := connect.Credentials{Issuer: f.Key, SharedSecret: []byte(f.Secret)}
	if err := creds.Valid(); err != nil {
		return connect.Credentials{}, err
	}
	return creds, nil
}

// describe logs what the request will commit to, which is the first thing
// to compare when the server answers 401.
func describe(logger *slog.Logger, method, rawURL string) {
	descriptor, err := qsh.ParseRequestURI(method, rawURL)
	if err != nil {
		logger.Error("request does not canonicalize", slog.String("error", err.Error()))
		return
	}

	canonical, err := qsh.Canonicalize(descriptor)
	if err != nil {
		logger.Error("request does not canonicalize", slog.String("error", err.Error()))
		return
	}

	logger.Debug("signing request",
		slog.String("canonical", canonical),
		slog.String("qsh", qsh.Hash(canonical)),
	)
}
