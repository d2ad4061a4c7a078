package httpx

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeystore writes a PEM bundle with one identity per name. Each
// certificate is valid for <name>.test.
func writeKeystore(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keystore.pem")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for i, name := range names {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 1)),
			Subject:      pkix.Name{CommonName: name},
			DNSNames:     []string{name + ".test"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		if err != nil {
			t.Fatal(err)
		}
		kder, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatal(err)
		}
		pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Headers: map[string]string{"friendlyName": name}, Bytes: kder})
		pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	}
	return path
}

func startTLS(t *testing.T, ep *TLSEndPoint) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ep.Listener = ln
	s := &Server{Workers: 2}
	s.Handle(NewRule("/"), "scheme", HandlerFunc(func(req *Request, resp *Response) (bool, error) {
		resp.WriteString(req.Scheme())
		return true, nil
	}))
	s.AddEndPoint(ep)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return ln.Addr().String()
}

func presented(t *testing.T, addr, serverName string) string {
	t.Helper()
	c, err := tls.Dial("tcp", addr, &tls.Config{ServerName: serverName, InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(c, "GET / HTTP/1.1\r\n\r\n")
	res, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "https" {
		t.Fatalf("scheme = %q", body)
	}
	return c.ConnectionState().PeerCertificates[0].Subject.CommonName
}

func TestLoadKeystore_PEMAliases(t *testing.T) {
	ks, err := LoadKeystore(writeKeystore(t, "Alpha", "beta"), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ks.Aliases) != 2 || ks.Aliases[0] != "alpha" || ks.Aliases[1] != "beta" {
		t.Fatalf("aliases = %v", ks.Aliases)
	}
	if _, ok := ks.Cert("ALPHA"); !ok {
		t.Fatal("alias lookup is case-sensitive")
	}
}

func TestParseKeystore_DuplicateAlias(t *testing.T) {
	path := writeKeystore(t, "same", "same")
	if _, err := LoadKeystore(path, "", ""); err == nil {
		t.Fatal("duplicate alias accepted")
	}
}

func TestTLSEndPoint_ForcedAlias(t *testing.T) {
	addr := startTLS(t, &TLSEndPoint{Keystore: writeKeystore(t, "alpha", "beta"), Alias: "beta"})
	if cn := presented(t, addr, "alpha.test"); cn != "beta" {
		t.Fatalf("presented %q, want forced beta", cn)
	}
}

func TestTLSEndPoint_SelectsBySNI(t *testing.T) {
	addr := startTLS(t, &TLSEndPoint{Keystore: writeKeystore(t, "alpha", "beta")})
	if cn := presented(t, addr, "beta.test"); cn != "beta" {
		t.Fatalf("presented %q for beta.test", cn)
	}
	if cn := presented(t, addr, "other.test"); cn != "alpha" {
		t.Fatalf("presented %q without a matching name, want first identity", cn)
	}
}

func TestTLSEndPoint_ConfigErrors(t *testing.T) {
	path := writeKeystore(t, "alpha")
	tests := []struct {
		name string
		ep   *TLSEndPoint
	}{
		{"unknown alias", &TLSEndPoint{Keystore: path, Alias: "gamma"}},
		{"unknown cipher", &TLSEndPoint{Keystore: path, Ciphers: []string{"TLS_NOPE"}}},
		{"unknown protocol", &TLSEndPoint{Keystore: path, Protocols: []string{"SSLv3"}}},
		{"missing keystore", &TLSEndPoint{Keystore: filepath.Join(t.TempDir(), "none.pem")}},
		{"client auth without CAs", &TLSEndPoint{Keystore: path, ClientAuth: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ep.TLSConfig(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

// testCA is a self-signed CA able to issue client certificates.
type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(100),
		Subject:               pkix.Name{CommonName: "burrow test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &testCA{cert: cert, key: key}
}

func (ca *testCA) clientCert(t *testing.T, name string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(101),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// withCA writes the CA certificate ahead of the identities in keystore, so
// it is not taken for part of a chain.
func withCA(t *testing.T, ca *testCA, keystore string) string {
	t.Helper()
	ids, err := os.ReadFile(keystore)
	if err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
	path := filepath.Join(t.TempDir(), "keystore-ca.pem")
	if err := os.WriteFile(path, append(data, ids...), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func tlsGet(addr string, certs []tls.Certificate) (*http.Response, error) {
	c, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true, Certificates: certs})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c, "GET / HTTP/1.1\r\n\r\n"); err != nil {
		return nil, err
	}
	res, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		return nil, err
	}
	_, err = io.ReadAll(res.Body)
	return res, err
}

func TestTLSEndPoint_ClientAuth(t *testing.T) {
	ca := newTestCA(t)
	path := withCA(t, ca, writeKeystore(t, "alpha"))
	ks, err := LoadKeystore(path, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ks.Aliases) != 1 || len(ks.Trusted) != 1 {
		t.Fatalf("aliases=%v trusted=%d", ks.Aliases, len(ks.Trusted))
	}
	addr := startTLS(t, &TLSEndPoint{Keystore: path, ClientAuth: true})

	res, err := tlsGet(addr, []tls.Certificate{ca.clientCert(t, "client")})
	if err != nil {
		t.Fatalf("with client certificate: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if _, err := tlsGet(addr, nil); err == nil {
		t.Fatal("request without a client certificate was served")
	}

	other := newTestCA(t)
	if _, err := tlsGet(addr, []tls.Certificate{other.clientCert(t, "stranger")}); err == nil {
		t.Fatal("certificate from an unknown CA was accepted")
	}
}

func TestTLSEndPoint_ClientAuthWithoutCAsIsConfigFault(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	s := &Server{Workers: 1}
	s.Handle(NewRule("/"), "hello", HandlerFunc(hello))
	s.AddEndPoint(&TLSEndPoint{PlainEndPoint: PlainEndPoint{Name: "secure", Listener: ln}, Keystore: writeKeystore(t, "alpha"), ClientAuth: true})
	if err := s.Start(); !errors.Is(err, ErrNoEndPoints) {
		t.Fatalf("Start = %v, want ErrNoEndPoints", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	var cfgErr *ConfigError
	faults := s.Faults()
	if len(faults) != 1 || !errors.As(faults[0], &cfgErr) || cfgErr.Component != "endpoint secure" {
		t.Fatalf("faults = %v", faults)
	}
}

func TestTLSEndPoint_Protocols(t *testing.T) {
	ep := &TLSEndPoint{
		Keystore:  writeKeystore(t, "alpha"),
		Protocols: []string{"TLSv1.3", "TLSv1.2"},
		Ciphers:   []string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"},
	}
	cfg, err := ep.TLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("versions = %x..%x", cfg.MinVersion, cfg.MaxVersion)
	}
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 {
		t.Fatalf("ciphers = %v", cfg.CipherSuites)
	}
}

func TestNewTLSEndPointFromOptions(t *testing.T) {
	if _, err := NewTLSEndPointFromOptions("secure", MapOptions{}); err == nil {
		t.Fatal("missing keystore accepted")
	}
	ep, err := NewTLSEndPointFromOptions("secure", MapOptions{
		"keystore":       "/etc/burrow/ks.p12",
		"store-password": "changeit",
		"protocols":      "TLSv1.2, TLSv1.3",
	})
	if err != nil {
		t.Fatal(err)
	}
	te := ep.(*TLSEndPoint)
	if te.Port != 8443 || te.KeyPassword != "changeit" || len(te.Protocols) != 2 {
		t.Fatalf("endpoint = %+v", te)
	}
}
