package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vigil/core"
	"vigil/ingest"
	"vigil/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func clearAnalysisEnv(t *testing.T) {
	t.Setenv("VIGIL_ANALYSIS_URL", "")
	t.Setenv("ANALYSIS_SERVICE_URL", "")
}

func TestAnalyzeCommandLocalFallback(t *testing.T) {
	clearAnalysisEnv(t)

	out, err := execute(t, NewAnalyzeCmd(), "", "--json", "ERROR: Unauthorized access attempt")
	require.NoError(t, err)

	var analysis core.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	assert.Equal(t, core.SeverityHigh, analysis.Severity)
	assert.Equal(t, "Application Error", analysis.Category)
	assert.Equal(t, core.EngineLocal, analysis.Engine)
	assert.NotEmpty(t, analysis.Priority)
}

func TestAnalyzeCommandHumanOutput(t *testing.T) {
	clearAnalysisEnv(t)

	out, err := execute(t, NewAnalyzeCmd(), "", "--quiet", "connection", "refused", "from", "8.8.8.8")
	require.NoError(t, err)
	assert.Contains(t, out, "Severity:")
	assert.Contains(t, out, "Network")
	assert.Contains(t, out, "8.8.8.8")
	assert.Contains(t, out, "Recommended actions")
}

func TestAnalyzeCommandReadsStdin(t *testing.T) {
	clearAnalysisEnv(t)

	out, err := execute(t, NewAnalyzeCmd(), "warning: disk 91% full\n", "--json", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"category": "Warning"`)
}

func TestAnalyzeCommandRejectsEmptyInput(t *testing.T) {
	clearAnalysisEnv(t)

	_, err := execute(t, NewAnalyzeCmd(), "   ", "--json", "-")
	assert.ErrorIs(t, err, core.ErrEmptyLogText)

	_, err = execute(t, NewAnalyzeCmd(), "")
	assert.ErrorIs(t, err, core.ErrEmptyLogText)
}

func TestAnalyzeCommandRejectsTraversal(t *testing.T) {
	_, err := execute(t, NewAnalyzeCmd(), "", "--file", "../secrets.log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}

func TestAnalyzeCommandUsesRemoteService(t *testing.T) {
	clearAnalysisEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"severity":"HIGH","category":"IAM","summary":"Role granted","recommended_actions":["Review binding"]}`))
	}))
	defer server.Close()

	out, err := execute(t, NewAnalyzeCmd(), "", "--json", "--url", server.URL, "SetIamPolicy on project")
	require.NoError(t, err)

	var analysis core.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	assert.Equal(t, core.EngineRemote, analysis.Engine)
	assert.Equal(t, "IAM", analysis.Category)
	assert.Empty(t, analysis.FallbackReason)
}

func TestReadAnalyzeInputFromFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile("incident.log", []byte("fatal: out of memory"), 0o600))

	text, err := readAnalyzeInput(strings.NewReader(""), "incident.log", nil)
	require.NoError(t, err)
	assert.Equal(t, "fatal: out of memory", text)

	_, err = readAnalyzeInput(strings.NewReader(""), "incident.log", []string{"extra"})
	assert.Error(t, err)
}

func seedDLQ(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.db")
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(path, logger)
	require.NoError(t, err)
	defer db.Close()

	dlq := ingest.NewDLQ(db.DB, logger)
	ctx := context.Background()
	require.NoError(t, dlq.Add(ctx, &ingest.FailedDelivery{
		Channel:      core.SourcePubSub,
		RawPayload:   "bm90IGpzb24=",
		ErrorReason:  ingest.ReasonMalformedEnvelope,
		ErrorDetails: "payload is not JSON",
	}))
	require.NoError(t, dlq.Add(ctx, &ingest.FailedDelivery{
		Channel:      core.SourcePoll,
		RawPayload:   `{"textPayload":"x"}`,
		ErrorReason:  ingest.ReasonPollFault,
		ErrorDetails: "store exploded",
	}))
	return path
}

func TestDLQListCommand(t *testing.T) {
	path := seedDLQ(t)

	out, err := execute(t, NewDLQCmd(), "", "list", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "REASON")
	assert.Contains(t, out, ingest.ReasonMalformedEnvelope)
	assert.Contains(t, out, ingest.ReasonPollFault)
	assert.Contains(t, out, "2 of 2 entries")

	out, err = execute(t, NewDLQCmd(), "", "list", "--db", path, "--json", "--reason", ingest.ReasonPollFault)
	require.NoError(t, err)
	var resp struct {
		Items []ingest.DeadLetter `json:"items"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, core.SourcePoll, resp.Items[0].Channel)
}

func TestDLQDiscardCommand(t *testing.T) {
	path := seedDLQ(t)

	out, err := execute(t, NewDLQCmd(), "", "discard", "1", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "marked discarded")

	_, err = execute(t, NewDLQCmd(), "", "discard", "99", "--db", path)
	assert.Error(t, err)

	_, err = execute(t, NewDLQCmd(), "", "discard", "abc", "--db", path)
	assert.Error(t, err)
}

func TestDLQCommandStructure(t *testing.T) {
	cmd := NewDLQCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"list", "discard", "resolve"} {
		assert.True(t, names[want], "missing command: %s", want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("json"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("no-color"))
}
