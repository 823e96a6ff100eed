package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

// useSQLite points the CLI at a fresh SQLite file for the duration of t.
func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_ADDRESS", filepath.Join(t.TempDir(), "jobs.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LEASE_WAIT", "20ms")
	t.Setenv("PDF_OUTPUT_DIR", t.TempDir())
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := execute(ctx, cmd, a)
	return out.String(), err
}

func lines(s string) []string {
	return strings.Fields(strings.TrimSpace(s))
}

func inspect(t *testing.T, id string) *core.Job {
	t.Helper()
	out, err := runCLI(t, context.Background(), "inspect", id)
	require.NoError(t, err)

	var got struct {
		ID         string          `json:"id"`
		HandlerKey string          `json:"handler_key"`
		Queue      string          `json:"queue"`
		Status     core.JobStatus  `json:"status"`
		Args       json.RawMessage `json:"args"`
		Kwargs     json.RawMessage `json:"kwargs"`
		Error      string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	return &core.Job{
		ID:         got.ID,
		HandlerKey: got.HandlerKey,
		Queue:      got.Queue,
		Status:     got.Status,
		Args:       got.Args,
		Kwargs:     got.Kwargs,
		Error:      got.Error,
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, json.RawMessage("42"), parseValue("42"))
	assert.Equal(t, json.RawMessage(`{"a":1}`), parseValue(`{"a":1}`))
	assert.Equal(t, json.RawMessage(`"quoted"`), parseValue(`"quoted"`))
	assert.Equal(t, "hello", parseValue("hello"))
	assert.Equal(t, "hello world", parseValue("hello world"))
}

func TestParseKwargs(t *testing.T) {
	kw, err := parseKwargs([]string{"name=Ada", "n=3", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "Ada", kw["name"])
	assert.Equal(t, json.RawMessage("3"), kw["n"])
	assert.Equal(t, "", kw["empty"])

	kw, err = parseKwargs(nil)
	require.NoError(t, err)
	assert.Nil(t, kw)

	_, err = parseKwargs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseKwargs([]string{"=x"})
	assert.Error(t, err)
}

func TestEnqueueAndInspect(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "enqueue", "print_message", "hello", "there",
		"--count", "2", "--queue", "cli", "--kwarg", "who=me")
	require.NoError(t, err)
	ids := lines(out)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	job := inspect(t, ids[0])
	assert.Equal(t, ids[0], job.ID)
	assert.Equal(t, "print_message", job.HandlerKey)
	assert.Equal(t, "cli", job.Queue)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.JSONEq(t, `["hello","there"]`, string(job.Args))
	assert.JSONEq(t, `{"who":"me"}`, string(job.Kwargs))
}

func TestEnqueue_InvalidInput(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	_, err := runCLI(t, ctx, "enqueue")
	assert.Error(t, err)

	_, err = runCLI(t, ctx, "enqueue", "echo", "1", "--count", "0")
	assert.Error(t, err)

	_, err = runCLI(t, ctx, "enqueue", "echo", "--kwarg", "broken")
	assert.Error(t, err)

	_, err = runCLI(t, ctx, "enqueue", "not a key!")
	assert.ErrorIs(t, err, core.ErrInvalidHandlerKey)
}

func TestInspect_StatusListAndErrors(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "enqueue", "echo", "1", "-n", "3")
	require.NoError(t, err)
	require.Len(t, lines(out), 3)

	out, err = runCLI(t, ctx, "inspect", "--status", "queued")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 3)

	out, err = runCLI(t, ctx, "inspect", "--status", "failed")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = runCLI(t, ctx, "inspect")
	assert.Error(t, err)

	_, err = runCLI(t, ctx, "inspect", "missing-id")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestHello(t *testing.T) {
	useSQLite(t)

	out, err := runCLI(t, context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "greeting = Hello from the job store!\n", out)

	out, err = runCLI(t, context.Background(), "hello", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "greeting = hi there\n", out)
}

func TestReap_NothingExpired(t *testing.T) {
	useSQLite(t)

	out, err := runCLI(t, context.Background(), "reap")
	require.NoError(t, err)
	assert.Equal(t, "requeued 0 job(s)\n", out)
}

func TestWorker_RunsDemoHandlers(t *testing.T) {
	useSQLite(t)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "enqueue", "print_message", "hello", "from the cli")
	require.NoError(t, err)
	printID := lines(out)[0]

	out, err = runCLI(t, ctx, "enqueue", "echo", `{"x":[1,2]}`)
	require.NoError(t, err)
	echoID := lines(out)[0]

	out, err = runCLI(t, ctx, "enqueue", "send_email", `{"to":"not-an-address","subject":"Hi"}`)
	require.NoError(t, err)
	emailID := lines(out)[0]

	runCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	out, err = runCLI(t, runCtx, "worker", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Worker says: hello\nExtra info: from the cli\nMy job ID is: "+printID)

	assert.Equal(t, core.StatusSucceeded, inspect(t, printID).Status)
	assert.Equal(t, core.StatusSucceeded, inspect(t, echoID).Status)

	failed := inspect(t, emailID)
	assert.Equal(t, core.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "not-an-address")
}

func TestWorker_InvalidQueueFlag(t *testing.T) {
	useSQLite(t)

	_, err := runCLI(t, context.Background(), "worker", "--queues", "bad queue!")
	assert.ErrorIs(t, err, core.ErrInvalidQueueName)
}

func TestRoot_InvalidConfig(t *testing.T) {
	useSQLite(t)
	t.Setenv("LEASE_DURATION_SECONDS", "0")

	_, err := runCLI(t, context.Background(), "hello")
	assert.Error(t, err)
}

func TestExecute_ClosesStoreWhenCommandFails(t *testing.T) {
	useSQLite(t)

	cmd, a := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", "missing-id"})

	err := execute(context.Background(), cmd, a)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.Nil(t, a.store)
	assert.Nil(t, a.queue)
}
