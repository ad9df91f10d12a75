package upstream

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Encoder turns a serialized request body into the opaque transport form the
// encrypted endpoints expect.
type Encoder interface {
	Encode(plain []byte) (string, error)
}

// RSAEncoder implements the app's transport scheme: PKCS#1 v1.5 encryption in
// key-size-bounded chunks, concatenated and base64 encoded.
type RSAEncoder struct {
	pub *rsa.PublicKey
}

// NewRSAEncoder parses a PEM-encoded RSA key. A private key is accepted and
// reduced to its public component, matching how the key material is shipped.
func NewRSAEncoder(pemKey string) (*RSAEncoder, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("upstream rsa key: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &RSAEncoder{pub: &key.PublicKey}, nil
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PrivateKey); ok {
			return &RSAEncoder{pub: &key.PublicKey}, nil
		}
		return nil, fmt.Errorf("upstream rsa key: PKCS#8 key is not RSA")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return &RSAEncoder{pub: key}, nil
		}
		return nil, fmt.Errorf("upstream rsa key: public key is not RSA")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return &RSAEncoder{pub: key}, nil
	}
	return nil, fmt.Errorf("upstream rsa key: unrecognized key format")
}

// Encode encrypts plain chunk by chunk. PKCS#1 v1.5 caps each chunk at the
// modulus size minus eleven bytes of padding.
func (e *RSAEncoder) Encode(plain []byte) (string, error) {
	chunk := e.pub.Size() - 11
	var out []byte
	for len(plain) > 0 {
		n := chunk
		if len(plain) < n {
			n = len(plain)
		}
		enc, err := rsa.EncryptPKCS1v15(rand.Reader, e.pub, plain[:n])
		if err != nil {
			return "", fmt.Errorf("rsa encrypt: %w", err)
		}
		out = append(out, enc...)
		plain = plain[n:]
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

var _ Encoder = (*RSAEncoder)(nil)
