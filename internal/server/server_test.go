package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"keyz/internal/config"
	"keyz/internal/protocol"
	"keyz/internal/store"
)

func testServer(t *testing.T, mutate func(*config.Config)) (*Server, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Protocol.IdleTimeout = 300 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	s := store.New(store.Options{CompressionThreshold: cfg.Store.CompressionThreshold, DefaultTTL: cfg.DefaultTTL()})
	srv := New(s, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if srv.Addr() == "" {
		t.Fatalf("server did not bind in time")
	}

	return srv, func() {
		cancel()
		<-done
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn net.Conn, payload string) string {
	t.Helper()
	if err := protocol.WriteFrame(conn, []byte(payload), -1); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	reply, err := protocol.ReadFrame(conn, -1)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return string(reply)
}

func TestEndToEndSetGetDel(t *testing.T) {
	srv, stop := testServer(t, nil)
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	if got := send(t, conn, "SET text hello world"); got != "ok" {
		t.Fatalf("SET reply = %q, want ok", got)
	}
	if got := send(t, conn, "GET text"); got != "hello world" {
		t.Fatalf("GET reply = %q, want %q", got, "hello world")
	}
	if got := send(t, conn, "DEL text"); got != "text" {
		t.Fatalf("DEL reply = %q, want text", got)
	}
	if got := send(t, conn, "GET text"); got != "null" {
		t.Fatalf("GET after DEL reply = %q, want null", got)
	}
}

func TestEndToEndInvalidCommandKeepsConnectionOpen(t *testing.T) {
	srv, stop := testServer(t, nil)
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	if got := send(t, conn, "SET k"); got != "error:invalid command" {
		t.Fatalf("invalid SET reply = %q", got)
	}
	if got := send(t, conn, "GET k"); got != "null" {
		t.Fatalf("GET after invalid SET = %q, want null", got)
	}
}

func TestEndToEndFrameTooLargeClosesConnection(t *testing.T) {
	srv, stop := testServer(t, func(cfg *config.Config) {
		cfg.Protocol.MaxMessageBytes = 8
	})
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	// The client has no size limit of its own; only the server enforces
	// max_message_bytes on read, so this write succeeds and the server
	// must close the connection without replying.
	if err := protocol.WriteFrame(conn, make([]byte, 100), -1); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after frame-too-large, got a byte instead")
	}
}

func TestEndToEndInvalidUTF8ClosesConnection(t *testing.T) {
	srv, stop := testServer(t, nil)
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	// Invalid UTF-8 is a per-connection error (spec §4.F/§7): the
	// connection closes without a reply, unlike a parse failure.
	if err := protocol.WriteFrame(conn, []byte{0xff, 0xfe, 0xfd}, -1); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after invalid utf-8, got a byte instead")
	}
}

func TestEndToEndIdleTimeoutSendsCourtesyReply(t *testing.T) {
	srv, stop := testServer(t, func(cfg *config.Config) {
		cfg.Protocol.IdleTimeout = 100 * time.Millisecond
		cfg.Protocol.TimeoutResponse = "bye now"
	})
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := protocol.ReadFrame(conn, -1)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(reply) != "bye now" {
		t.Fatalf("timeout reply = %q, want %q", reply, "bye now")
	}
}

func TestEndToEndCloseCommand(t *testing.T) {
	srv, stop := testServer(t, nil)
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	if got := send(t, conn, "CLOSE"); got != "Closing connection" {
		t.Fatalf("CLOSE reply = %q", got)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection closed after CLOSE")
	}
}

func TestEndToEndExpiration(t *testing.T) {
	srv, stop := testServer(t, nil)
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	if got := send(t, conn, "SET user:1 v EX 1"); got != "ok" {
		t.Fatalf("SET reply = %q", got)
	}
	exin := send(t, conn, "EXIN user:1")
	if exin != "0" && exin != "1" {
		t.Fatalf("EXIN reply = %q, want 0 or 1", exin)
	}

	time.Sleep(1200 * time.Millisecond)
	if got := send(t, conn, "GET user:1"); got != "null" {
		t.Fatalf("GET after expiry = %q, want null", got)
	}
	if got := send(t, conn, "EXIN user:1"); got != "null" {
		t.Fatalf("EXIN after expiry = %q, want null", got)
	}
}
