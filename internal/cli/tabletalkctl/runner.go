// Package tabletalkctl implements the command-line client for the TableTalk
// API: session lifecycle, questions, transcripts, exports, and archiving.
package tabletalkctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tabletalkctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableTalk API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	driver := fs.String("driver", "", "database driver for session-create (postgres or duckdb)")
	dsn := fs.String("dsn", "", "database DSN for session-create")
	sqlModel := fs.String("sql-model", "", "SQL model override for session-create")
	chartModel := fs.String("chart-model", "", "chart model override for session-create")
	format := fs.String("format", "csv", "export format (csv or parquet)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	raw := false

	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "session-create":
		method, path = http.MethodPost, "/v1/sessions"
		payload := map[string]string{}
		if *driver != "" {
			payload["driver"] = *driver
		}
		if *dsn != "" {
			payload["dsn"] = *dsn
		}
		if *sqlModel != "" {
			payload["sql_model"] = *sqlModel
		}
		if *chartModel != "" {
			payload["chart_model"] = *chartModel
		}
		body, _ = json.Marshal(payload)
	case "session-close":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "session-close requires a session id")
			return 2
		}
		method, path = http.MethodDelete, "/v1/sessions/"+fs.Arg(1)
	case "ask":
		if fs.NArg() < 3 {
			_, _ = fmt.Fprintln(stderr, "ask requires a session id and a question")
			return 2
		}
		method, path = http.MethodPost, "/v1/sessions/"+fs.Arg(1)+"/ask"
		question := strings.Join(fs.Args()[2:], " ")
		body, _ = json.Marshal(map[string]string{"question": question})
	case "transcript":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "transcript requires a session id")
			return 2
		}
		method, path = http.MethodGet, "/v1/sessions/"+fs.Arg(1)+"/transcript"
	case "export":
		if fs.NArg() < 3 {
			_, _ = fmt.Fprintln(stderr, "export requires a session id and a table index")
			return 2
		}
		method = http.MethodGet
		path = fmt.Sprintf("/v1/sessions/%s/artifacts/table/%s/export?format=%s", fs.Arg(1), fs.Arg(2), *format)
		raw = true
	case "archive":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "archive requires a session id")
			return 2
		}
		method, path = http.MethodPost, "/v1/sessions/"+fs.Arg(1)+"/archive"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if raw {
		_, _ = stdout.Write(responseBody)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tabletalkctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  session-create            POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  session-close <session>   DELETE /v1/sessions/{session}")
	_, _ = fmt.Fprintln(w, "  ask <session> <question>  POST /v1/sessions/{session}/ask")
	_, _ = fmt.Fprintln(w, "  transcript <session>      GET /v1/sessions/{session}/transcript")
	_, _ = fmt.Fprintln(w, "  export <session> <index>  GET /v1/sessions/{session}/artifacts/table/{index}/export")
	_, _ = fmt.Fprintln(w, "  archive <session>         POST /v1/sessions/{session}/archive")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
