package server

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/epochdb/epochdb/internal/command"
	"github.com/epochdb/epochdb/internal/protocol"
	"github.com/epochdb/epochdb/internal/store"
)

func TestServerKeepsConnectionOpenAfterOversizedFrame(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv, err := New("127.0.0.1:0", &command.Executor{DB: db}, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	oversized := strings.Repeat("x", protocol.MaxBulkStringLen+1)
	if _, err := conn.Write([]byte("*1\r\n$" + strconv.Itoa(len(oversized)) + "\r\n" + oversized + "\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading -ERR reply: %v", err)
	}
	if !strings.HasPrefix(line, "-") {
		t.Fatalf("got %q, want an -ERR reply", line)
	}

	if _, err := conn.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
		t.Fatalf("Write after oversized frame: %v", err)
	}
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("connection was closed instead of staying open: %v", err)
	}
	if reply != "+PONG\r\n" {
		t.Fatalf("got %q want %q", reply, "+PONG\r\n")
	}
}
