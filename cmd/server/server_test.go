package main

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/nickyhof/GlobalDB"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/ps"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

func newTestInstance(t *testing.T) (*GlobalDB.Instance, *ps.Persistence) {
	t.Helper()
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("Failed to open duckdb: %v", err)
	}
	instance := GlobalDB.OpenGit(persistence, testIdentity, db, GlobalDB.WithWorkers(2, 8))
	t.Cleanup(func() {
		instance.Close()
		db.Close()
	})
	return instance, persistence
}

func setupTestServer(t *testing.T, opts ...ServerOption) (*Server, *GlobalDB.Instance, func()) {
	instance, _ := newTestInstance(t)

	server := NewServer(instance, testIdentity, opts...)
	if err := server.Start(":0"); err != nil { // :0 picks a free port
		t.Fatalf("Failed to start server: %v", err)
	}

	return server, instance, func() {
		server.Stop()
	}
}

type client struct {
	t      *testing.T
	nc     net.Conn
	reader *bufio.Reader
	nextID int64
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return &client{t: t, nc: nc, reader: bufio.NewReader(nc)}
}

// do sends req with a fresh ID and reads one response.
func (c *client) do(req Request) Response {
	c.t.Helper()
	c.nextID++
	req.ID = c.nextID
	data, err := json.Marshal(req)
	if err != nil {
		c.t.Fatalf("Failed to encode request: %v", err)
	}
	return c.raw(string(data))
}

func (c *client) raw(line string) Response {
	c.t.Helper()
	if _, err := c.nc.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
	return c.read()
}

func (c *client) read() Response {
	c.t.Helper()
	c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		c.t.Fatalf("Failed to parse response %q: %v", line, err)
	}
	return resp
}

func (c *client) ok(req Request) Response {
	c.t.Helper()
	resp := c.do(req)
	if !resp.Success {
		c.t.Fatalf("%s failed: %s", req.Op, resp.Error)
	}
	return resp
}

func decode[T any](t *testing.T, resp Response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		t.Fatalf("Failed to parse result %s: %v", resp.Result, err)
	}
	return v
}

func TestServerStartStop(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if server.TLSEnabled() {
		t.Error("Expected TLS to be disabled")
	}
}

func TestServerSetGetKill(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()
	c := dial(t, server.Addr())

	c.ok(Request{Op: OpSet, Ref: `^Customer(1,"name")`, Data: "Alice"})

	node := decode[NodeResponse](t, c.ok(Request{Op: OpGet, Ref: `^Customer(1,"name")`}))
	if !node.Defined || node.Data != "Alice" {
		t.Errorf("Unexpected node: %+v", node)
	}

	c.ok(Request{Op: OpKill, Ref: `^Customer(1)`})
	node = decode[NodeResponse](t, c.ok(Request{Op: OpGet, Ref: `^Customer(1,"name")`}))
	if node.Defined {
		t.Error("Expected node to be gone after kill")
	}

	if resp := c.do(Request{Op: OpGet}); resp.Success || !strings.Contains(resp.Error, "missing ref") {
		t.Errorf("Expected missing ref error, got %+v", resp)
	}
}

func TestServerCursorTraversal(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()
	c := dial(t, server.Addr())

	for i, name := range []string{"Alice", "Bob", "Carol"} {
		c.ok(Request{Op: OpSet, Ref: `^Customer(` + string(rune('1'+i)) + `,"name")`, Data: name})
	}

	open := decode[OpenResponse](t, c.ok(Request{
		Op:      OpOpen,
		Ref:     "^Customer",
		Options: &Options{Multilevel: true, GetData: true},
	}))
	if open.Context != "query" {
		t.Fatalf("Expected query context, got %s", open.Context)
	}

	var names []string
	for {
		step := decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
		if step.End {
			break
		}
		if step.Global != "Customer" || len(step.Keys) != 2 || step.Data == nil {
			t.Fatalf("Unexpected step: %+v", step)
		}
		names = append(names, *step.Data)
	}
	if strings.Join(names, ",") != "Alice,Bob,Carol" {
		t.Errorf("Unexpected names: %v", names)
	}

	step := decode[StepResponse](t, c.ok(Request{Op: OpPrevious, Cursor: open.Cursor}))
	if step.Data == nil || *step.Data != "Carol" {
		t.Errorf("Expected previous from the end to return Carol, got %+v", step)
	}

	c.ok(Request{Op: OpReset, Cursor: open.Cursor, Ref: `^Customer(2)`, Options: &Options{Multilevel: true, Format: "url"}})
	step = decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
	if step.Encoded != "key1=2&key2=name" {
		t.Errorf("Unexpected encoded step: %+v", step)
	}

	c.ok(Request{Op: OpClose, Cursor: open.Cursor})
	if resp := c.do(Request{Op: OpNext, Cursor: open.Cursor}); resp.Success || !strings.Contains(resp.Error, "unknown cursor") {
		t.Errorf("Expected unknown cursor after close, got %+v", resp)
	}
}

func TestServerDirectory(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()
	c := dial(t, server.Addr())

	c.ok(Request{Op: OpSet, Ref: `^B(1)`, Data: "x"})
	c.ok(Request{Op: OpSet, Ref: `^A(1)`, Data: "x"})

	globals := decode[GlobalsResponse](t, c.ok(Request{Op: OpGlobals}))
	if strings.Join(globals.Globals, ",") != "A,B" {
		t.Errorf("Unexpected globals: %v", globals.Globals)
	}

	open := decode[OpenResponse](t, c.ok(Request{Op: OpOpen, Options: &Options{GlobalDirectory: true}}))
	first := decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
	second := decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
	end := decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
	if first.Name != "A" || second.Name != "B" || !end.End {
		t.Errorf("Unexpected directory walk: %+v %+v %+v", first, second, end)
	}
}

func TestServerSQL(t *testing.T) {
	server, instance, cleanup := setupTestServer(t)
	defer cleanup()

	if _, err := instance.SQL.Exec("CREATE TABLE items (id INTEGER, value VARCHAR)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if _, err := instance.SQL.Exec("INSERT INTO items VALUES (1, 'one'), (2, 'two')"); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	c := dial(t, server.Addr())
	open := decode[OpenResponse](t, c.ok(Request{Op: OpOpen, SQL: "SELECT id, value FROM items ORDER BY id"}))
	if open.Context != "sql" {
		t.Fatalf("Expected sql context, got %s", open.Context)
	}

	// Async execute: queued acknowledgement, then the callback frame.
	queued := c.ok(Request{Op: OpExecute, Cursor: open.Cursor, Async: true})
	if queued.Type != TypeQueued {
		t.Fatalf("Expected queued response, got %+v", queued)
	}
	callback := c.read()
	if callback.Type != TypeCallback || callback.ID != queued.ID || !callback.Success {
		t.Fatalf("Unexpected callback frame: %+v", callback)
	}
	var res struct {
		SQLCode  int    `json:"sqlcode"`
		SQLState string `json:"sqlstate"`
	}
	if err := json.Unmarshal(callback.Result, &res); err != nil || res.SQLCode != 0 || res.SQLState != "00000" {
		t.Errorf("Unexpected callback result %s (%v)", callback.Result, err)
	}

	row := decode[StepResponse](t, c.ok(Request{Op: OpNext, Cursor: open.Cursor}))
	if row.Row["id"] != "1" || row.Row["value"] != "one" || len(row.Columns) != 2 {
		t.Errorf("Unexpected row: %+v", row)
	}

	// Sync cleanup reports the released rows.
	cleanupResp := c.ok(Request{Op: OpCleanup, Cursor: open.Cursor})
	var out struct {
		Output string `json:"output"`
	}
	json.Unmarshal(cleanupResp.Result, &out)
	if out.Output != "2" {
		t.Errorf("Expected 2 released rows, got %q", out.Output)
	}

	bad := decode[OpenResponse](t, c.ok(Request{Op: OpOpen, SQL: "SELECT * FROM missing"}))
	resp := c.do(Request{Op: OpExecute, Cursor: bad.Cursor})
	if resp.Success || resp.Error == "" {
		t.Errorf("Expected failed execute, got %+v", resp)
	}
}

func TestServerErrors(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()
	c := dial(t, server.Addr())

	if resp := c.raw("not json"); resp.Success || !strings.Contains(resp.Error, "invalid request") {
		t.Errorf("Expected invalid request, got %+v", resp)
	}
	if resp := c.do(Request{Op: "drop"}); resp.Success || !strings.Contains(resp.Error, "unknown operation") {
		t.Errorf("Expected unknown operation, got %+v", resp)
	}
	if resp := c.do(Request{Op: OpOpen, Ref: "^Bad(", Options: &Options{}}); resp.Success {
		t.Error("Expected malformed reference to fail")
	}
	if resp := c.do(Request{Op: OpOpen, Ref: "^X", Options: &Options{Format: "xml"}}); resp.Success {
		t.Error("Expected unknown format to fail")
	}

	open := decode[OpenResponse](t, c.ok(Request{Op: OpOpen, Ref: "^X"}))
	if resp := c.do(Request{Op: OpExecute, Cursor: open.Cursor}); resp.Success {
		t.Error("Expected execute on a global cursor to fail")
	}
}

func TestServerMetrics(t *testing.T) {
	instance, _ := newTestInstance(t)
	m := newMetrics(instance.Pending)
	server := NewServer(instance, testIdentity, withMetrics(m))
	if err := server.Start(":0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	c := dial(t, server.Addr())
	c.ok(Request{Op: OpSet, Ref: `^X(1)`, Data: "1"})
	open := decode[OpenResponse](t, c.ok(Request{Op: OpOpen, Ref: "^X"}))
	c.ok(Request{Op: OpNext, Cursor: open.Cursor})
	c.ok(Request{Op: OpNext, Cursor: open.Cursor})

	if got := testutil.ToFloat64(m.primitives.WithLabelValues("order", "ok")); got != 2 {
		t.Errorf("Expected 2 order calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.clients); got != 1 {
		t.Errorf("Expected 1 connected client, got %v", got)
	}
}

// setupAuthTestServer creates a server with authentication enabled
func setupAuthTestServer(t *testing.T, secret string) (*Server, *ps.Persistence, func()) {
	instance, persistence := newTestInstance(t)

	authConfig := &AuthConfig{
		Enabled:   true,
		JWTSecret: secret,
	}

	server := NewServerWithAuth(instance, authConfig)
	if err := server.Start(":0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	return server, persistence, func() {
		server.Stop()
	}
}

func TestAuthRequired(t *testing.T) {
	server, _, cleanup := setupAuthTestServer(t, "test-secret")
	defer cleanup()

	resp := dial(t, server.Addr()).do(Request{Op: OpGlobals})
	if resp.Success {
		t.Error("Expected failure when not authenticated")
	}
	if !strings.Contains(resp.Error, "authentication required") {
		t.Errorf("Expected 'authentication required' error, got: %s", resp.Error)
	}
}

func TestAuthWithValidJWT(t *testing.T) {
	secret := "test-secret"
	server, persistence, cleanup := setupAuthTestServer(t, secret)
	defer cleanup()

	token := createTestJWT(t, secret, "Test User", "test@example.com")
	c := dial(t, server.Addr())

	resp := c.raw("AUTH JWT " + token)
	if !resp.Success {
		t.Fatalf("Auth failed: %s", resp.Error)
	}
	if resp.Type != TypeAuth {
		t.Errorf("Expected 'auth' type, got: %s", resp.Type)
	}

	authResp := decode[AuthResponse](t, resp)
	if !authResp.Authenticated {
		t.Error("Expected authenticated to be true")
	}
	if authResp.Identity != "Test User <test@example.com>" {
		t.Errorf("Expected identity 'Test User <test@example.com>', got: %s", authResp.Identity)
	}
	if authResp.ExpiresIn <= 0 {
		t.Errorf("Expected positive expiry, got %d", authResp.ExpiresIn)
	}

	// Writes are now authored by the token's identity.
	c.ok(Request{Op: OpSet, Ref: `^Audit(1)`, Data: "x"})
	if author := persistence.LatestTransaction().Author; author != "Test User <test@example.com>" {
		t.Errorf("Expected commit by the authenticated user, got %q", author)
	}
}

func TestAuthWithInvalidJWT(t *testing.T) {
	server, _, cleanup := setupAuthTestServer(t, "test-secret")
	defer cleanup()

	wrongToken := createTestJWT(t, "wrong-secret", "Test User", "test@example.com")
	c := dial(t, server.Addr())

	resp := c.raw("AUTH JWT " + wrongToken)
	if resp.Success {
		t.Error("Expected auth to fail with wrong secret")
	}
	if resp.Error == "" {
		t.Error("Expected error message")
	}

	if resp := c.raw("AUTH BASIC user:pass"); resp.Success || !strings.Contains(resp.Error, "unsupported auth type") {
		t.Errorf("Expected unsupported auth type, got %+v", resp)
	}
}

func TestVerifyToken(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return s
	}
	server := &Server{authConfig: &AuthConfig{
		Enabled:    true,
		JWTSecret:  "secret",
		Issuer:     "globaldb",
		Audience:   "cli",
		EmailClaim: "mail",
	}}

	id, expiry, err := server.verifyToken(sign(jwt.MapClaims{"iss": "globaldb", "aud": "cli", "mail": "a@b.c"}))
	if err != nil {
		t.Fatalf("verifyToken failed: %v", err)
	}
	if id.Email != "a@b.c" || id.Name != "" {
		t.Errorf("Expected identity from the configured claim, got %+v", id)
	}
	if !expiry.IsZero() {
		t.Errorf("Expected no expiry, got %v", expiry)
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   error
	}{
		{"wrong issuer", jwt.MapClaims{"iss": "other", "aud": "cli", "mail": "a@b.c"}, jwt.ErrTokenInvalidIssuer},
		{"wrong audience", jwt.MapClaims{"iss": "globaldb", "aud": "web", "mail": "a@b.c"}, jwt.ErrTokenInvalidAudience},
		{"expired", jwt.MapClaims{"iss": "globaldb", "aud": "cli", "mail": "a@b.c", "exp": time.Now().Add(-time.Minute).Unix()}, jwt.ErrTokenExpired},
		{"no identity", jwt.MapClaims{"iss": "globaldb", "aud": "cli", "email": "a@b.c"}, ErrNoIdentityClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.verifyToken(sign(tt.claims)); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, _, err := (&Server{}).verifyToken(sign(jwt.MapClaims{})); !errors.Is(err, ErrAuthNotConfigured) {
		t.Errorf("Expected ErrAuthNotConfigured, got %v", err)
	}
	if _, _, err := parseAuthCommand("auth jwt"); err == nil {
		t.Error("Expected an error for a command without credentials")
	}
	if kind, token, err := parseAuthCommand("auth jwt abc"); err != nil || kind != "JWT" || token != "abc" {
		t.Errorf("Unexpected parse result %q %q %v", kind, token, err)
	}
}

func TestIdentityInCommitsUnauthenticated(t *testing.T) {
	instance, persistence := newTestInstance(t)
	server := NewServer(instance, core.Identity{Name: "Server", Email: "server@test.com"})
	if err := server.Start(":0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	dial(t, server.Addr()).ok(Request{Op: OpSet, Ref: `^X(1)`, Data: "1"})

	if author := persistence.LatestTransaction().Author; author != "Server <server@test.com>" {
		t.Errorf("Expected commit by the server identity, got %q", author)
	}
}

// createTestJWT creates a JWT token for testing
func createTestJWT(t *testing.T, secret, name, email string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name":  name,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to create test JWT: %v", err)
	}
	return tokenString
}

func setupTLSTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	certFile := tmpDir + "/cert.pem"
	keyFile := tmpDir + "/key.pem"
	generateTestCertificate(t, certFile, keyFile)

	instance, _ := newTestInstance(t)
	server := NewServer(instance, testIdentity)
	if err := server.StartTLS(":0", certFile, keyFile); err != nil {
		t.Fatalf("Failed to start TLS server: %v", err)
	}

	return server, certFile, func() {
		server.Stop()
	}
}

// generateTestCertificate creates a self-signed certificate for testing
func generateTestCertificate(t *testing.T, certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("Failed to create cert file: %v", err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	certOut.Close()

	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("Failed to create key file: %v", err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	keyOut.Close()
}

func TestTLSServerConnection(t *testing.T) {
	server, certFile, cleanup := setupTLSTestServer(t)
	defer cleanup()

	if !server.TLSEnabled() {
		t.Error("Expected TLS to be enabled")
	}

	certPool := x509.NewCertPool()
	certData, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}
	certPool.AppendCertsFromPEM(certData)

	nc, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), &tls.Config{
		RootCAs:    certPool,
		ServerName: "localhost",
	})
	if err != nil {
		t.Fatalf("Failed to connect with TLS: %v", err)
	}
	defer nc.Close()

	c := &client{t: t, nc: nc, reader: bufio.NewReader(nc)}
	c.ok(Request{Op: OpSet, Ref: `^TLS(1)`, Data: "secure"})
	node := decode[NodeResponse](t, c.ok(Request{Op: OpGet, Ref: `^TLS(1)`}))
	if node.Data != "secure" {
		t.Errorf("Unexpected node over TLS: %+v", node)
	}
}

func TestTLSServerInvalidCert(t *testing.T) {
	server, _, cleanup := setupTLSTestServer(t)
	defer cleanup()

	// Without our CA the self-signed certificate must be rejected
	_, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(), &tls.Config{
		ServerName: "localhost",
	})
	if err == nil {
		t.Error("Expected TLS connection to fail with invalid certificate")
	}
}

func TestOpenInstance(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"git memory", Config{Store: "git", Workers: 1, QueueSize: 1}, false},
		{"pebble memory", Config{Store: "pebble", Workers: 1, QueueSize: 1}, false},
		{"pebble dir", Config{Store: "pebble", BaseDir: t.TempDir(), Workers: 1, QueueSize: 1}, false},
		{"unknown", Config{Store: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, closeStore, err := openInstance(&tt.cfg, nil, testLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openInstance failed: %v", err)
			}
			defer closeStore()
			defer instance.Close()

			local := instance.Connect()
			if err := local.Set(core.Reference{Global: "X", Keys: core.Keys("1")}, []byte("v")); err != nil {
				t.Errorf("Set failed: %v", err)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := Config{Port: 7379, Store: "git", LogLevel: "info", Workers: 4, QueueSize: 64}
	if err := Validator().Struct(valid); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"store", func(c *Config) { c.Store = "redis" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"port", func(c *Config) { c.Port = 0 }},
		{"tls pair", func(c *Config) { c.TLSCert = "cert.pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			if err := Validator().Struct(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestDecodeRequestValidation(t *testing.T) {
	tests := []struct {
		line    string
		wantErr bool
	}{
		{`{"op":"get","ref":"^X(1)"}`, false},
		{`{"op":"open","options":{"globaldirectory":true}}`, false},
		{`{"op":"open","ref":"^X","options":{"format":"url"}}`, false},
		{`{"ref":"^X(1)"}`, true},
		{`{"op":"get","ref":"^X(a)"}`, true},
		{`{"op":"next","cursor":-1}`, true},
		{`{"op":"open","ref":"^X","options":{"format":"xml"}}`, true},
	}

	for _, tt := range tests {
		_, err := DecodeRequest([]byte(tt.line))
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeRequest(%s): wantErr %v, got %v", tt.line, tt.wantErr, err)
		}
	}
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
