package httpx

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
)

// TLSEndPoint accepts TLS connections. The handshake runs on the worker
// that serves the connection, not in the accept loop.
type TLSEndPoint struct {
	PlainEndPoint
	// Keystore is a PKCS#12 file or a PEM bundle, see LoadKeystore.
	Keystore      string
	StorePassword string
	KeyPassword   string
	// Alias, when set, is always presented as the server identity
	// whatever the client asks for.
	Alias string
	// Ciphers lists enabled suites by their standard names. TLS 1.3
	// suites are not configurable.
	Ciphers []string
	// Protocols lists enabled versions such as "TLSv1.2" and "TLSv1.3".
	Protocols []string
	// ClientAuth requires a client certificate signed by a CA from the
	// keystore.
	ClientAuth bool

	// Config, when set, is used as is instead of being built from the
	// fields above.
	Config *tls.Config
}

// NewTLSEndPointFromOptions reads the plain endpoint options plus
// keystore, store-password, key-password, alias, ciphers, protocols and
// client-auth.
func NewTLSEndPointFromOptions(name string, opts Options) (EndPoint, error) {
	ep := &TLSEndPoint{}
	ep.Name = name
	if err := ep.configure(opts); err != nil {
		return nil, err
	}
	ep.Port = opts.Int("port", 8443)
	ep.Keystore = opts.String("keystore", "")
	if ep.Keystore == "" {
		return nil, errors.New("keystore not set")
	}
	ep.StorePassword = opts.String("store-password", "")
	ep.KeyPassword = opts.String("key-password", ep.StorePassword)
	ep.Alias = opts.String("alias", "")
	ep.Ciphers = opts.Strings("ciphers")
	ep.Protocols = opts.Strings("protocols")
	ep.ClientAuth = opts.Bool("client-auth", false)
	return ep, nil
}

func (e *TLSEndPoint) Start(srv *Server) error {
	cfg := e.Config
	if cfg == nil {
		var err error
		if cfg, err = e.TLSConfig(); err != nil {
			return err
		}
	}
	return e.start(srv, func(c net.Conn) net.Conn { return tls.Server(c, cfg) })
}

// TLSConfig builds the server configuration from the keystore and the
// cipher, protocol and client-auth settings.
func (e *TLSEndPoint) TLSConfig() (*tls.Config, error) {
	ks, err := LoadKeystore(e.Keystore, e.StorePassword, e.KeyPassword)
	if err != nil {
		return nil, err
	}
	return e.configFor(ks)
}

func (e *TLSEndPoint) configFor(ks *Keystore) (*tls.Config, error) {
	sel := &certSelector{ks: ks}
	if e.Alias != "" {
		c, ok := ks.Cert(e.Alias)
		if !ok {
			return nil, fmt.Errorf("alias %q not in keystore (have %s)", e.Alias, strings.Join(ks.Aliases, ", "))
		}
		sel.forced = &c
	}
	cfg := &tls.Config{GetCertificate: sel.GetCertificate}
	if len(e.Ciphers) > 0 {
		ids, err := cipherIDs(e.Ciphers)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = ids
	}
	if len(e.Protocols) > 0 {
		lo, hi, err := versionRange(e.Protocols)
		if err != nil {
			return nil, err
		}
		cfg.MinVersion, cfg.MaxVersion = lo, hi
	}
	if e.ClientAuth {
		if len(ks.Trusted) == 0 {
			return nil, errors.New("client-auth requires CA certificates in the keystore")
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = ks.CAs
	}
	return cfg, nil
}

// certSelector chooses the server certificate. A forced identity wins
// over anything the client hello asks for.
type certSelector struct {
	ks     *Keystore
	forced *tls.Certificate
}

func (s *certSelector) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if s.forced != nil {
		return s.forced, nil
	}
	var first *tls.Certificate
	for _, alias := range s.ks.Aliases {
		c := s.ks.Certs[alias]
		if first == nil {
			first = &c
		}
		if hello.SupportsCertificate(&c) == nil {
			return &c, nil
		}
	}
	return first, nil
}

func cipherIDs(names []string) ([]uint16, error) {
	known := map[string]uint16{}
	for _, cs := range tls.CipherSuites() {
		known[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		known[cs.Name] = cs.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, n := range names {
		id, ok := known[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var tlsVersions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv1.0": tls.VersionTLS10,
	"tlsv1.1": tls.VersionTLS11,
	"tlsv1.2": tls.VersionTLS12,
	"tlsv1.3": tls.VersionTLS13,
}

// versionRange maps protocol names to the lowest and highest version.
func versionRange(names []string) (lo, hi uint16, err error) {
	for _, n := range names {
		v, ok := tlsVersions[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, 0, fmt.Errorf("unknown protocol %q", n)
		}
		if lo == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}
