// Package signature verifies a plugin archive's detached signature against
// a trust store of root certificates. Verification is a pure function of
// the archive bytes, the envelope, and the trust store; no other host
// state participates.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/go-lynx/pluginhost/plugins"
)

// Algorithm identifies a supported signature algorithm.
type Algorithm string

const (
	AlgRSAPKCS1v15 Algorithm = "RSA-PKCS1-v1.5"
	AlgRSAPSS      Algorithm = "RSA-PSS"
	AlgECDSAP256   Algorithm = "ECDSA-P256"
	AlgEd25519     Algorithm = "Ed25519"
)

// Outcome is the result of verifying a signature envelope.
type Outcome string

const (
	Valid             Outcome = "Valid"
	ValidButUntrusted Outcome = "ValidButUntrusted"
	Invalid           Outcome = "Invalid"
	Expired           Outcome = "Expired"
	Revoked           Outcome = "Revoked"
)

// TrustLevel gates which verification outcomes proceed to install.
type TrustLevel string

const (
	TrustStrict TrustLevel = "strict"
	TrustBasic  TrustLevel = "basic"
	TrustNone   TrustLevel = "none"
)

// Envelope is the detached signature record carried alongside (or inside)
// the archive: the algorithm pair, the raw signature, and the signer's
// certificate chain.
type Envelope struct {
	Algorithm       Algorithm `json:"algorithm"`
	DigestAlgorithm string    `json:"digest_algorithm"`
	SignatureBytes  []byte    `json:"signature_bytes"`
	SignerChain     [][]byte  `json:"signer_chain"` // DER-encoded certificates, leaf first.
}

// EnvelopeSuffix is the sidecar filename extension appended to an archive's
// path to locate its detached signature envelope.
const EnvelopeSuffix = ".sig.json"

// LoadEnvelope reads and JSON-decodes the signature sidecar for archivePath
// (archivePath + EnvelopeSuffix). A missing sidecar is reported via ok=false
// rather than an error, since its absence is a legitimate (if untrusted)
// input the caller resolves through TrustLevel policy.
func LoadEnvelope(archivePath string) (env Envelope, ok bool, err error) {
	data, err := os.ReadFile(archivePath + EnvelopeSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return Envelope{}, false, nil
		}
		return Envelope{}, false, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false, fmt.Errorf("signature: malformed envelope: %w", err)
	}
	return env, true, nil
}

// RevocationOracle optionally consults an external authority for whether a
// certificate has been revoked. A nil oracle is treated as "never revoked".
type RevocationOracle interface {
	IsRevoked(cert *x509.Certificate) (bool, error)
}

// TrustStore holds the root certificates plugin signatures are anchored
// to, plus an optional revocation oracle.
type TrustStore struct {
	roots  *x509.CertPool
	oracle RevocationOracle
}

// NewTrustStore builds a TrustStore from a set of PEM-encoded root
// certificates (the trust_store/*.pem files under the host's state dir).
func NewTrustStore(rootPEMs [][]byte, oracle RevocationOracle) (*TrustStore, error) {
	pool := x509.NewCertPool()
	for _, pemBytes := range rootPEMs {
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("signature: failed to parse a root certificate")
		}
	}
	return &TrustStore{roots: pool, oracle: oracle}, nil
}

// Verify checks env's signature over payload's SHA-256 digest against the
// leaf certificate in env.SignerChain, then validates the chain to a
// trusted root. It never returns an error for a bad signature — that is
// reported as Invalid/Expired/Revoked/ValidButUntrusted via Outcome; err is
// reserved for an empty signer chain or an unparseable leaf certificate.
// An unsupported algorithm or a key of the wrong type is reported as
// Invalid.
func (ts *TrustStore) Verify(payload []byte, env Envelope) (Outcome, error) {
	if len(env.SignerChain) == 0 {
		return Invalid, fmt.Errorf("signature: empty signer chain")
	}
	leaf, err := x509.ParseCertificate(env.SignerChain[0])
	if err != nil {
		return Invalid, fmt.Errorf("signature: parse leaf certificate: %w", err)
	}

	digest := sha256.Sum256(payload)

	if err := verifySignature(env.Algorithm, leaf, digest[:], env.SignatureBytes); err != nil {
		return Invalid, nil
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return Expired, nil
	}

	if ts.oracle != nil {
		revoked, err := ts.oracle.IsRevoked(leaf)
		if err == nil && revoked {
			return Revoked, nil
		}
	}

	intermediates := x509.NewCertPool()
	for _, der := range env.SignerChain[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		intermediates.AddCert(cert)
	}

	if _, err := leaf.Verify(x509.VerifyOptions{Roots: ts.roots, Intermediates: intermediates}); err != nil {
		return ValidButUntrusted, nil
	}

	return Valid, nil
}

func verifySignature(alg Algorithm, leaf *x509.Certificate, digest, sig []byte) error {
	switch alg {
	case AlgRSAPKCS1v15:
		pub, ok := leaf.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("signature: not an RSA key")
		}
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig)
	case AlgRSAPSS:
		pub, ok := leaf.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("signature: not an RSA key")
		}
		return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, nil)
	case AlgECDSAP256:
		pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("signature: not an ECDSA key")
		}
		if !ecdsa.VerifyASN1(pub, digest, sig) {
			return fmt.Errorf("signature: ECDSA verification failed")
		}
		return nil
	case AlgEd25519:
		pub, ok := leaf.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("signature: not an Ed25519 key")
		}
		if !ed25519.Verify(pub, digest, sig) {
			return fmt.Errorf("signature: Ed25519 verification failed")
		}
		return nil
	default:
		return fmt.Errorf("signature: unsupported algorithm %q", alg)
	}
}

// Decide applies level to outcome, returning nil if the install should
// proceed or a structured SignatureInvalid error otherwise. Strict accepts
// only Valid; Basic additionally tolerates an untrusted chain; None accepts
// everything and leaves the caller to log a warning.
func Decide(level TrustLevel, outcome Outcome) error {
	switch level {
	case TrustStrict:
		if outcome != Valid {
			return signatureError(outcome)
		}
	case TrustBasic:
		if outcome == Invalid || outcome == Expired || outcome == Revoked {
			return signatureError(outcome)
		}
	case TrustNone:
		// Accepted with warning regardless of outcome; caller logs it.
	}
	return nil
}

func signatureError(outcome Outcome) error {
	return plugins.NewPluginErrorWithCode(plugins.ErrorCodeSignatureInvalid, "", "verify", string(outcome), nil)
}

// DecodeRootPEM is a convenience for loading a single trust_store/*.pem file
// from already-read bytes, validating it parses as PEM before the caller
// accumulates it into NewTrustStore's rootPEMs slice.
func DecodeRootPEM(data []byte) error {
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("signature: not a PEM-encoded certificate")
	}
	_, err := x509.ParseCertificate(block.Bytes)
	return err
}
