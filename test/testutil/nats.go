package testutil

import (
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// FreePort reserves a local TCP port and returns it to the caller.
// Params: none.
// Returns: free port number or error.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// NATS is a throwaway JetStream server owned by one test.
type NATS struct {
	URL string

	tb testing.TB
	nc *nats.Conn
	js nats.JetStreamContext
}

// StartNATS launches nats-server with JetStream and stops it on test cleanup.
// Params: test handle; the test is skipped in -short mode or without a nats-server binary.
// Returns: running server with a connected JetStream client.
func StartNATS(tb testing.TB) *NATS {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skip nats integration test in short mode")
	}

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}

	cmd := exec.Command("nats-server", "-js", "-a", "127.0.0.1", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}
	tb.Cleanup(func() { stopProcess(cmd) })

	server := &NATS{URL: "nats://127.0.0.1:" + strconv.Itoa(port), tb: tb}
	server.nc = connectWithin(tb, server.URL, 8*time.Second)
	tb.Cleanup(server.nc.Close)

	server.js, err = server.nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream context: %v", err)
	}
	return server
}

// Conn returns the server's shared test connection.
func (n *NATS) Conn() *nats.Conn { return n.nc }

// CreateKVBucket provisions a KV bucket the way an operator would before start-up.
func (n *NATS) CreateKVBucket(bucket string) {
	n.tb.Helper()

	if _, err := n.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket}); err != nil {
		n.tb.Fatalf("create kv bucket %s: %v", bucket, err)
	}
}

// StreamMessages returns the number of messages currently held by a stream.
func (n *NATS) StreamMessages(stream string) uint64 {
	n.tb.Helper()

	info, err := n.js.StreamInfo(stream)
	if err != nil {
		n.tb.Fatalf("stream info %s: %v", stream, err)
	}
	return info.State.Msgs
}

// LastStreamMessage returns the newest message stored on a stream subject.
func (n *NATS) LastStreamMessage(stream, subject string) *nats.RawStreamMsg {
	n.tb.Helper()

	msg, err := n.js.GetLastMsg(stream, subject)
	if err != nil {
		n.tb.Fatalf("last message %s/%s: %v", stream, subject, err)
	}
	return msg
}

// RequestTick sends an empty tick request and returns the text reply.
func (n *NATS) RequestTick(subject string) string {
	n.tb.Helper()

	reply, err := n.nc.Request(subject, nil, 2*time.Second)
	if err != nil {
		n.tb.Fatalf("request %s: %v", subject, err)
	}
	return string(reply.Data)
}

// connectWithin retries until the server accepts a client or the deadline passes.
func connectWithin(tb testing.TB, url string, timeout time.Duration) *nats.Conn {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for {
		nc, err := nats.Connect(url)
		if err == nil {
			return nc
		}
		if time.Now().After(deadline) {
			tb.Fatalf("nats did not become ready at %s: %v", url, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func stopProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}
