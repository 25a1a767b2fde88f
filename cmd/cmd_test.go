package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filedrop/config"
	"filedrop/internal/archive"
	"filedrop/internal/audit"
	"filedrop/internal/client"
	"filedrop/internal/models"
	"filedrop/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ServerAddr:       "127.0.0.1:1",
		FilesDir:         filepath.Join(dir, "files"),
		WorkDir:          filepath.Join(dir, "work"),
		ArchiveFormat:    "zip",
		MaxConnections:   4,
		HandshakeTimeout: 5 * time.Second,
		AuditDB:          filepath.Join(dir, "audit.db"),
		OutputDir:        filepath.Join(dir, "output"),
		ConnectTimeout:   2 * time.Second,
		ResponseTimeout:  5 * time.Second,
		ChunkTimeout:     time.Second,
		LogLevel:         "error",
	}
}

// run executes the root command with args and returns what it printed to
// stdout.
func run(args ...string) (string, error) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), err
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	output, err := run(args...)
	if err != nil {
		t.Fatalf("%s failed: %v", strings.Join(args, " "), err)
	}
	return output
}

func decode(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, output)
	}
}

// startServer serves files from a fresh directory and records into
// auditDB.
func startServer(t *testing.T, auditDB string, files map[string][]byte) string {
	t.Helper()

	sourceDir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(sourceDir, name), content, 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}
	provider, err := archive.New(archive.Config{Dir: sourceDir, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	store, err := audit.Open(audit.Config{Path: auditDB})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.New(server.Config{}, provider, store, nil).Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})
	return listener.Addr().String()
}

func waitForAudit(t *testing.T, path string, want int) {
	t.Helper()
	store, err := audit.Open(audit.Config{Path: path})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	defer store.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := store.ListAll(context.Background())
		if err == nil && len(entries) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit entries", want)
}

func TestListCommand(t *testing.T) {
	cfg = testConfig(t)
	addr := startServer(t, cfg.AuditDB, map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": bytes.Repeat([]byte("x"), 2048),
	})

	output := execute(t, "list", "--server", addr)

	var result models.ListResult
	decode(t, output, &result)

	if result.Server != addr {
		t.Errorf("Server = %s, want %s", result.Server, addr)
	}
	if result.TotalFiles != 2 {
		t.Fatalf("TotalFiles = %d, want 2", result.TotalFiles)
	}
	if result.Files[0].Name != "a.txt" || result.Files[1].Name != "b.txt" {
		t.Errorf("Unexpected files %+v", result.Files)
	}
	if result.TotalSizeBytes != 2053 {
		t.Errorf("TotalSizeBytes = %d, want 2053", result.TotalSizeBytes)
	}
	if result.Files[1].SizeHuman != "2.0 KB" {
		t.Errorf("SizeHuman = %s, want 2.0 KB", result.Files[1].SizeHuman)
	}
}

func TestListCommandUnreachable(t *testing.T) {
	cfg = testConfig(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	output := execute(t, "list", "--server", addr)

	var resp models.ErrorResponse
	decode(t, output, &resp)
	if resp.Command != "list" || resp.Error == "" {
		t.Errorf("Unexpected error response %+v", resp)
	}
}

func TestDownloadAndAuditCommands(t *testing.T) {
	cfg = testConfig(t)
	content := bytes.Repeat([]byte("audit me "), 1000)
	addr := startServer(t, cfg.AuditDB, map[string][]byte{"report.txt": content})
	destination := t.TempDir()

	output := execute(t, "download", "report.txt", "--server", addr, "--destination", destination, "--no-progress")

	var result models.DownloadResult
	decode(t, output, &result)
	if result.Filename != "report.txt" {
		t.Errorf("Filename = %s, want report.txt", result.Filename)
	}
	if filepath.Dir(result.SavedPath) != destination {
		t.Errorf("SavedPath = %s, want it in %s", result.SavedPath, destination)
	}
	if _, err := os.Stat(result.SavedPath); err != nil {
		t.Errorf("Saved archive missing: %v", err)
	}
	if result.OriginalSize != uint64(len(content)) {
		t.Errorf("OriginalSize = %d, want %d", result.OriginalSize, len(content))
	}
	if result.Mirror != nil {
		t.Error("Mirror should be empty without --mirror")
	}

	waitForAudit(t, cfg.AuditDB, 1)

	output = execute(t, "audit", "list", "--db", cfg.AuditDB)
	var list models.AuditListResult
	decode(t, output, &list)
	if list.TotalEntries != 1 || list.Entries[0].Filename != "report.txt" {
		t.Fatalf("Unexpected audit list %+v", list)
	}
	if list.Entries[0].OriginalSize != int64(len(content)) {
		t.Errorf("audit OriginalSize = %d, want %d", list.Entries[0].OriginalSize, len(content))
	}

	exportPath := filepath.Join(t.TempDir(), "audit.cbor")
	output = execute(t, "audit", "export", "--db", cfg.AuditDB, "--format", "cbor", "--output", exportPath)
	var export models.AuditExportResult
	decode(t, output, &export)
	if export.TotalEntries != 1 || export.OutputPath != exportPath || export.Format != "cbor" {
		t.Errorf("Unexpected export result %+v", export)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if int64(len(data)) != export.SizeBytes {
		t.Errorf("SizeBytes = %d, file has %d", export.SizeBytes, len(data))
	}
	entries, err := audit.DecodeCBOR(data)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "report.txt" {
		t.Errorf("Unexpected exported entries %+v", entries)
	}

	rootCmd.SetIn(strings.NewReader("n\n"))
	output = execute(t, "audit", "clear", "--db", cfg.AuditDB)
	rootCmd.SetIn(nil)
	if !strings.Contains(output, "Clear cancelled.") {
		t.Errorf("Expected cancellation message, got %s", output)
	}

	output = execute(t, "audit", "clear", "--db", cfg.AuditDB, "--confirm")
	var cleared models.AuditClearResult
	decode(t, output, &cleared)
	if cleared.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", cleared.DeletedCount)
	}
}

func TestDownloadCommandMissingFile(t *testing.T) {
	cfg = testConfig(t)
	addr := startServer(t, cfg.AuditDB, map[string][]byte{"a.txt": []byte("a")})
	destination := t.TempDir()

	output := execute(t, "download", "missing.txt", "--server", addr, "--destination", destination, "--no-progress")

	var resp models.ErrorResponse
	decode(t, output, &resp)
	if resp.Command != "download" || !strings.Contains(resp.Error, "file not found") {
		t.Errorf("Unexpected error response %+v", resp)
	}
	files, _ := os.ReadDir(destination)
	if len(files) != 0 {
		t.Errorf("Expected no files in destination, got %d", len(files))
	}
}

func TestAuditListMissingDatabase(t *testing.T) {
	cfg = testConfig(t)

	output := execute(t, "audit", "list", "--db", filepath.Join(t.TempDir(), "none.db"))

	var resp models.ErrorResponse
	decode(t, output, &resp)
	if resp.Command != "audit list" {
		t.Errorf("Unexpected error response %+v", resp)
	}
}

func TestServeCommand(t *testing.T) {
	cfg = testConfig(t)
	if err := os.MkdirAll(cfg.FilesDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.FilesDir, "served.txt"), []byte("served"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oldSignalContext := signalContext
	signalContext = func() (context.Context, context.CancelFunc) { return ctx, cancel }
	defer func() { signalContext = oldSignalContext }()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := run("serve", "--listen", addr, "--format", "lz4")
		done <- outcome{output, err}
	}()

	var c *client.Client
	deadline := time.Now().Add(5 * time.Second)
	for c == nil && time.Now().Before(deadline) {
		c, err = client.Dial(context.Background(), addr, time.Second, 5*time.Second, nil)
		if err != nil {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if c == nil {
		t.Fatalf("serve did not start listening: %v", err)
	}

	entries, err := c.List()
	c.Close()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "served.txt" {
		t.Errorf("Unexpected entries %+v", entries)
	}

	cancel()
	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("serve failed: %v", res.err)
		}
		if res.output != "" {
			t.Errorf("serve printed %q", res.output)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
