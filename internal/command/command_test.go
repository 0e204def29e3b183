package command

import (
	"bytes"
	"strings"
	"testing"

	"github.com/epochdb/epochdb/internal/store"
)

func openTestExecutor(t *testing.T) *Executor {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return &Executor{DB: db}
}

func bulkStrings(ss ...string) [][]byte {
	args := make([][]byte, len(ss))
	for i, s := range ss {
		args[i] = []byte(s)
	}
	return args
}

func TestExecuteGetSimple(t *testing.T) {
	e := openTestExecutor(t)
	if err := e.DB.Set([]byte("k"), []byte("0"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("GET", "k"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "$1\r\n0\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "$1\r\n0\r\n")
	}
}

func TestExecuteSetArityError(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("SET", "a", "b", "c", "d"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "-ERR Wrong number of arguments for \"set\" command; Needed at least 3 arguments, Received 5 arguments\r\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("BOGUS"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "-ERR Command is invalid\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "-ERR Command is invalid\r\n")
	}
}

func TestExecuteGetMissingKeyRepliesNullBulkString(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("GET", "missing"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "$-1\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "$-1\r\n")
	}
}

func TestExecuteSetThenGetMetadata(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("SET", "k", "v"), &buf); err != nil {
		t.Fatalf("Execute SET: %v", err)
	}
	if buf.String() != "+OK\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "+OK\r\n")
	}

	buf.Reset()
	if err := e.Execute(bulkStrings("GET_METADATA", "k"), &buf); err != nil {
		t.Fatalf("Execute GET_METADATA: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected a non-empty GET_METADATA reply")
	}
}

func TestExecutePing(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("PING"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "+PONG\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "+PONG\r\n")
	}
}

func TestExecuteRmMissingKey(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("RM", "missing"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "-ERR Value is not found\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "-ERR Value is not found\r\n")
	}
}

func TestExecuteRmSuccess(t *testing.T) {
	e := openTestExecutor(t)
	if err := e.DB.Set([]byte("k"), []byte("v"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("RM", "k"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "+OK\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "+OK\r\n")
	}
}

func TestExecuteIncrementFrequencySuccess(t *testing.T) {
	e := openTestExecutor(t)
	if err := e.DB.Set([]byte("k"), []byte("v"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("INCREMENT_FREQUENCY", "k"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "+OK\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "+OK\r\n")
	}
}

func TestExecuteIncrementFrequencyMissingKey(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("INCREMENT_FREQUENCY", "missing"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "$-1\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "$-1\r\n")
	}
}

func TestExecuteGetMetadataMissingKey(t *testing.T) {
	e := openTestExecutor(t)
	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("GET_METADATA", "missing"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buf.String() != "$-1\r\n" {
		t.Fatalf("got %q want %q", buf.String(), "$-1\r\n")
	}
}

func TestExecuteGetMetadataFieldValuesAreIntegers(t *testing.T) {
	e := openTestExecutor(t)
	if err := e.DB.Set([]byte("k"), []byte("v"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Execute(bulkStrings("GET_METADATA", "k"), &buf); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// created_at is a real timestamp, so only the frequency and ttl fields
	// (and the shape around created_at) have a fixed expected value.
	wantPrefix := "*6\r\n$9\r\nfrequency\r\n:0\r\n$10\r\ncreated_at\r\n:"
	wantSuffix := "\r\n$3\r\nttl\r\n$-1\r\n"
	got := buf.String()
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("got %q, expected prefix %q", got, wantPrefix)
	}
	if !strings.HasSuffix(got, wantSuffix) {
		t.Fatalf("got %q, expected suffix %q", got, wantSuffix)
	}
}
