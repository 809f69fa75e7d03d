package ragsqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type runner struct {
	options Options
	baseURL string
	timeout time.Duration
}

// Run executes one ragsqlctl command and returns the process exit code:
// 0 on success, 1 on request or HTTP failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	defaults.Stdout = stdout
	defaults.Stderr = stderr

	root := NewRootCmd(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.msg != "" {
			_, _ = fmt.Fprintln(stderr, exitErr.msg)
		}
		return exitErr.code
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

func NewRootCmd(defaults Options) *cobra.Command {
	r := &runner{options: defaults}

	root := &cobra.Command{
		Use:           "ragsqlctl",
		Short:         "Command line client for the ragsql API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&r.baseURL, "api-url", firstNonEmpty(defaults.BaseURL, defaultBaseURL), "ragsql API base URL")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", durationOr(defaults.Timeout, defaultTimeout), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		r.simpleCmd("health", "Check that the API is alive", http.MethodGet, "/v1/health"),
		r.simpleCmd("ready", "Check that the API dependencies are reachable", http.MethodGet, "/v1/ready"),
		r.simpleCmd("sources", "List ingested schema sources", http.MethodGet, "/v1/schemas"),
		r.documentsCmd(),
		r.ingestCmd(),
		r.introspectCmd(),
		r.fetchCmd(),
		r.clearCmd(),
		r.retrieveCmd(),
		r.askCmd(),
	)
	return root
}

func (r *runner) simpleCmd(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.call(cmd, method, path, "", nil)
		},
	}
}

func (r *runner) documentsCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List schema documents in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/documents"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			return r.call(cmd, http.MethodGet, path, "", nil)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list keys under this prefix")
	return cmd
}

func (r *runner) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <source> <file>",
		Short: "Ingest a JSON or YAML schema document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return &exitError{code: 1, msg: fmt.Sprintf("read schema document: %v", err)}
			}
			contentType := "application/json"
			switch strings.ToLower(filepath.Ext(args[1])) {
			case ".yaml", ".yml":
				contentType = "application/yaml"
			}
			return r.call(cmd, http.MethodPut, "/v1/schemas/"+url.PathEscape(args[0]), contentType, raw)
		},
	}
}

func (r *runner) introspectCmd() *cobra.Command {
	var schemaName string
	cmd := &cobra.Command{
		Use:   "introspect <source>",
		Short: "Ingest the live schema of the target database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"schema": schemaName})
			if err != nil {
				return err
			}
			return r.call(cmd, http.MethodPost, "/v1/schemas/"+url.PathEscape(args[0])+"/introspect", "application/json", body)
		},
	}
	cmd.Flags().StringVar(&schemaName, "schema", "", "Database schema to introspect (server default when empty)")
	return cmd
}

func (r *runner) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <source> <key>",
		Short: "Ingest a schema document stored in the object store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"key": args[1]})
			if err != nil {
				return err
			}
			return r.call(cmd, http.MethodPost, "/v1/schemas/"+url.PathEscape(args[0])+"/fetch", "application/json", body)
		},
	}
}

func (r *runner) clearCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [source]",
		Short: "Remove the chunks of one source, or every chunk with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) == 0:
				return r.call(cmd, http.MethodDelete, "/v1/schemas", "", nil)
			case !all && len(args) == 1:
				return r.call(cmd, http.MethodDelete, "/v1/schemas/"+url.PathEscape(args[0]), "", nil)
			default:
				return errors.New("clear needs either a source or --all")
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored chunk")
	return cmd
}

func (r *runner) retrieveCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "retrieve <question>",
		Short: "Show the schema chunks retrieved for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]any{"question": args[0], "top_k": topK})
			if err != nil {
				return err
			}
			return r.call(cmd, http.MethodPost, "/v1/retrieve", "application/json", body)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (server default when 0)")
	return cmd
}

func (r *runner) askCmd() *cobra.Command {
	var (
		topK      int
		noExecute bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Generate SQL for a question and run it against the target database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]any{"question": args[0], "top_k": topK, "execute": !noExecute})
			if err != nil {
				return err
			}
			return r.call(cmd, http.MethodPost, "/v1/ask", "application/json", body)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (server default when 0)")
	cmd.Flags().BoolVar(&noExecute, "no-execute", false, "Generate and validate only")
	return cmd
}

func (r *runner) call(cmd *cobra.Command, method, path, contentType string, body []byte) error {
	client := r.options.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: r.timeout}
	}

	endpoint := strings.TrimRight(r.baseURL, "/") + path
	code, responseBody, err := doRequest(cmd.Context(), client, method, endpoint, contentType, body)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	if code >= 400 {
		return &exitError{code: 1, msg: fmt.Sprintf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	out := cmd.OutOrStdout()
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(out, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(out, string(responseBody))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, url, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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
