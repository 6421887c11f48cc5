package testutil

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// StateBucket is the KV bucket integration tests keep server state in.
	StateBucket = "monitoring_test"
	// Stream is the JetStream stream integration tests route queues through.
	Stream = "MONITORING_TEST"
	// SubjectPrefix prefixes every exchange subject in integration tests.
	SubjectPrefix = "monitoring_test"
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

// SkipShort skips integration tests under -short.
func SkipShort(tb testing.TB) {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skip integration test in short mode")
	}
}

// RedisAddr returns the redis address for integration tests or skips.
// Params: test handle; address comes from REDIS_ADDR.
// Returns: redis address.
func RedisAddr(tb testing.TB) string {
	tb.Helper()
	SkipShort(tb)
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		tb.Skip("REDIS_ADDR is required for redis integration test")
	}
	return addr
}

// NATSServer is a local nats-server process with JetStream enabled.
// Params: fixed port and data dir, so a restart keeps URL and stored state.
// Returns: server handle stopped on test cleanup.
type NATSServer struct {
	URL string

	tb      testing.TB
	port    int
	dataDir string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// StartNATSServer starts nats-server for the test or skips when it is not installed.
// Params: test handle for lifecycle and failure reporting.
// Returns: running server.
func StartNATSServer(tb testing.TB) *NATSServer {
	tb.Helper()
	SkipShort(tb)

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}
	server := &NATSServer{
		URL:     "nats://127.0.0.1:" + strconv.Itoa(port),
		tb:      tb,
		port:    port,
		dataDir: tb.TempDir(),
	}
	if err := server.start(); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}
	tb.Cleanup(server.Stop)
	return server
}

func (s *NATSServer) start() error {
	cmd := exec.Command("nats-server", "-js", "-p", strconv.Itoa(s.port), "-sd", s.dataDir)
	if err := cmd.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	WaitForNATSReady(s.tb, s.URL, 8*time.Second)
	return nil
}

// Stop terminates the server; stopping a stopped server is a no-op.
func (s *NATSServer) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
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

// Restart starts a stopped server again on the same port and data dir.
func (s *NATSServer) Restart() {
	s.tb.Helper()
	s.Stop()
	if err := s.start(); err != nil {
		s.tb.Fatalf("restart nats-server: %v", err)
	}
}

// WaitForNATSReady waits until a NATS endpoint accepts connections.
// Params: test handle, nats URL, and timeout.
// Returns: endpoint is reachable or test fails.
func WaitForNATSReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("nats did not become ready at %s", url)
}
