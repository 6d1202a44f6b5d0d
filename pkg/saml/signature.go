package saml

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// RedirectSignature is the detached signature material carried in the query
// string of an HTTP-Redirect request.
type RedirectSignature struct {
	// SAMLRequest is the still-encoded request parameter value.
	SAMLRequest string
	RelayState  string
	SigAlg      string
	Signature   string
	// RawQuery is the request's query string exactly as received. The
	// sender signs its own percent-encoding, so when set the signed data
	// is taken byte for byte from here rather than re-encoded.
	RawQuery string
}

// Present reports whether the request carried a signature at all.
func (s *RedirectSignature) Present() bool {
	return s.Signature != ""
}

// signedQuery returns the exact byte string the service provider signed:
// the URL-encoded parameters in the order SAMLRequest, RelayState (when
// present), SigAlg. The raw query is preferred because two encoders can
// disagree byte-wise (space as %20 versus +, hex case) while decoding to
// the same values.
func (s *RedirectSignature) signedQuery() []byte {
	if raw, ok := s.rawSignedQuery(); ok {
		return raw
	}
	q := "SAMLRequest=" + url.QueryEscape(s.SAMLRequest)
	if s.RelayState != "" {
		q += "&RelayState=" + url.QueryEscape(s.RelayState)
	}
	q += "&SigAlg=" + url.QueryEscape(s.SigAlg)
	return []byte(q)
}

// rawSignedQuery rebuilds the signed data from the still-encoded parameter
// values found in RawQuery, preserving the sender's byte-level encoding.
func (s *RedirectSignature) rawSignedQuery() ([]byte, bool) {
	if s.RawQuery == "" {
		return nil, false
	}
	var samlRequest, relayState, sigAlg string
	var haveRequest, haveRelay, haveAlg bool
	for _, pair := range strings.Split(s.RawQuery, "&") {
		name, value, _ := strings.Cut(pair, "=")
		switch name {
		case "SAMLRequest":
			samlRequest, haveRequest = value, true
		case "RelayState":
			relayState, haveRelay = value, true
		case "SigAlg":
			sigAlg, haveAlg = value, true
		}
	}
	if !haveRequest || !haveAlg {
		return nil, false
	}
	q := "SAMLRequest=" + samlRequest
	if haveRelay {
		q += "&RelayState=" + relayState
	}
	q += "&SigAlg=" + sigAlg
	return []byte(q), true
}

// VerifyRedirectSignature checks a detached HTTP-Redirect signature against
// the service provider's registered certificates. Any one matching
// certificate validates the request.
func VerifyRedirectSignature(sig *RedirectSignature, certs []*x509.Certificate) error {
	if !sig.Present() {
		return fmt.Errorf("request is not signed")
	}
	if len(certs) == 0 {
		return fmt.Errorf("no signing certificates registered for issuer")
	}

	var hashAlg crypto.Hash
	var digest []byte
	signed := sig.signedQuery()
	switch sig.SigAlg {
	case SigAlgRSASHA1:
		sum := sha1.Sum(signed)
		digest = sum[:]
		hashAlg = crypto.SHA1
	case SigAlgRSASHA256:
		sum := sha256.Sum256(signed)
		digest = sum[:]
		hashAlg = crypto.SHA256
	default:
		return fmt.Errorf("unsupported signature algorithm %q", sig.SigAlg)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	var lastErr error
	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if err := rsa.VerifyPKCS1v15(pub, hashAlg, digest, sigBytes); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RSA certificates registered for issuer")
	}
	return fmt.Errorf("signature verification failed: %w", lastErr)
}

// HasEnvelopedSignature reports whether an XML document carries an XML-DSig
// Signature element.
func HasEnvelopedSignature(xmlData []byte) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return false
	}
	root := doc.Root()
	if root == nil {
		return false
	}
	return root.FindElement("./Signature") != nil
}

// VerifyEnvelopedSignature validates the XML-DSig signature embedded in a
// POST or SOAP binding message against the service provider's registered
// certificates.
func VerifyEnvelopedSignature(xmlData []byte, certs []*x509.Certificate) error {
	if len(certs) == 0 {
		return fmt.Errorf("no signing certificates registered for issuer")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return fmt.Errorf("failed to parse signed document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("empty signed document")
	}

	store := &dsig.MemoryX509CertificateStore{Roots: certs}
	validationCtx := dsig.NewDefaultValidationContext(store)
	validationCtx.IdAttribute = "ID"
	if _, err := validationCtx.Validate(root); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
