package httpx

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Keystore holds server identities by alias plus the trusted CA
// certificates that had no private key.
type Keystore struct {
	Aliases []string
	Certs   map[string]tls.Certificate
	CAs     *x509.CertPool
	// Trusted lists the certificates added to CAs.
	Trusted []*x509.Certificate
}

// Cert returns the identity stored under alias (case-insensitive).
func (k *Keystore) Cert(alias string) (tls.Certificate, bool) {
	c, ok := k.Certs[strings.ToLower(alias)]
	return c, ok
}

// LoadKeystore reads a PKCS#12 file or a PEM bundle. PKCS#12 is opened with
// storePass, falling back to keyPass. In a PEM bundle a private key is
// followed by its certificate chain; an optional "friendlyName" or "alias"
// header on the key names the identity. Encrypted PEM keys use keyPass.
func LoadKeystore(path, storePass, keyPass string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks []*pem.Block
	if bytes.Contains(data, []byte("-----BEGIN ")) {
		for rest := data; ; {
			var b *pem.Block
			b, rest = pem.Decode(rest)
			if b == nil {
				break
			}
			blocks = append(blocks, b)
		}
	} else {
		blocks, err = pkcs12.ToPEM(data, storePass)
		if err != nil && keyPass != "" && keyPass != storePass {
			blocks, err = pkcs12.ToPEM(data, keyPass)
		}
		if err != nil {
			return nil, fmt.Errorf("keystore %s: %w", path, err)
		}
	}
	ks, err := ParseKeystore(blocks, keyPass)
	if err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	return ks, nil
}

type identity struct {
	alias string
	keyID string
	key   *pem.Block
	certs []*pem.Block
}

// ParseKeystore pairs keys with certificates. Blocks carrying a
// "localKeyId" header, as produced from PKCS#12, pair by that id; other
// certificates attach to the closest preceding key. Certificates left
// without a key become CAs.
func ParseKeystore(blocks []*pem.Block, keyPass string) (*Keystore, error) {
	ks := &Keystore{Certs: map[string]tls.Certificate{}, CAs: x509.NewCertPool()}
	var (
		ids   []*identity
		byID  = map[string]*identity{}
		keyOf = map[*pem.Block]*identity{}
		cas   []*pem.Block
	)
	for _, b := range blocks {
		if !strings.HasSuffix(b.Type, "PRIVATE KEY") {
			continue
		}
		key := b
		if x509.IsEncryptedPEMBlock(b) {
			der, err := x509.DecryptPEMBlock(b, []byte(keyPass))
			if err != nil {
				return nil, fmt.Errorf("decrypt key: %w", err)
			}
			key = &pem.Block{Type: b.Type, Bytes: der}
		}
		id := &identity{alias: blockAlias(b), keyID: b.Headers["localKeyId"], key: key}
		ids = append(ids, id)
		keyOf[b] = id
		if id.keyID != "" {
			byID[id.keyID] = id
		}
	}
	var cur *identity
	for _, b := range blocks {
		if id, ok := keyOf[b]; ok {
			cur = id
			continue
		}
		if b.Type != "CERTIFICATE" {
			continue
		}
		if kid := b.Headers["localKeyId"]; kid != "" {
			if id, ok := byID[kid]; ok {
				id.certs = append(id.certs, b)
				if id.alias == "" {
					id.alias = blockAlias(b)
				}
				continue
			}
		} else if cur != nil && cur.keyID == "" {
			cur.certs = append(cur.certs, b)
			continue
		}
		cas = append(cas, b)
	}
	for i, id := range ids {
		if len(id.certs) == 0 {
			return nil, fmt.Errorf("key %d has no certificate", i)
		}
		var certPEM bytes.Buffer
		for _, c := range id.certs {
			_ = pem.Encode(&certPEM, &pem.Block{Type: c.Type, Bytes: c.Bytes})
		}
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: id.key.Type, Bytes: id.key.Bytes})
		cert, err := tls.X509KeyPair(certPEM.Bytes(), keyPEM)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		alias := strings.ToLower(id.alias)
		if alias == "" && cert.Leaf != nil {
			alias = strings.ToLower(cert.Leaf.Subject.CommonName)
		}
		if alias == "" {
			alias = fmt.Sprintf("key%d", i)
		}
		if _, dup := ks.Certs[alias]; dup {
			return nil, fmt.Errorf("duplicate alias %q", alias)
		}
		ks.Certs[alias] = cert
		ks.Aliases = append(ks.Aliases, alias)
	}
	for _, c := range cas {
		if crt, err := x509.ParseCertificate(c.Bytes); err == nil {
			ks.CAs.AddCert(crt)
			ks.Trusted = append(ks.Trusted, crt)
		}
	}
	if len(ks.Aliases) == 0 {
		return nil, errors.New("no private key")
	}
	return ks, nil
}

func blockAlias(b *pem.Block) string {
	if v := b.Headers["friendlyName"]; v != "" {
		return v
	}
	return b.Headers["alias"]
}
