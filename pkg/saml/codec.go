package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/beevik/etree"
)

// maxInflatedSize caps DEFLATE expansion of redirect-binding payloads.
const maxInflatedSize = 1 << 20

// DecodeRequest reverses the given binding's transport encoding, returning
// the raw XML of the message. HTTP-Redirect payloads are base64 over raw
// DEFLATE; HTTP-POST payloads are base64 only; SOAP payloads arrive as
// plain XML inside an envelope and pass through unchanged.
func DecodeRequest(binding, encoded string) ([]byte, error) {
	switch binding {
	case BindingHTTPRedirect:
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to base64-decode request: %w", err)
		}
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		xmlData, err := io.ReadAll(io.LimitReader(fr, maxInflatedSize))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate request: %w", err)
		}
		return xmlData, nil
	case BindingHTTPPost:
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to base64-decode request: %w", err)
		}
		return data, nil
	case BindingSOAP:
		return []byte(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported binding %q", binding)
	}
}

// EncodeRedirect applies the HTTP-Redirect encoding (raw DEFLATE then
// base64) to an XML document.
func EncodeRedirect(xmlData []byte) (string, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(xmlData); err != nil {
		return "", err
	}
	if err := fw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodePost applies the HTTP-POST encoding (base64) to an XML document.
func EncodePost(xmlData []byte) string {
	return base64.StdEncoding.EncodeToString(xmlData)
}

// ParseAuthnRequest parses the raw XML of an AuthnRequest.
func ParseAuthnRequest(xmlData []byte) (*AuthnRequest, error) {
	var req AuthnRequest
	if err := xml.Unmarshal(xmlData, &req); err != nil {
		return nil, fmt.Errorf("failed to parse AuthnRequest: %w", err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("AuthnRequest has no ID")
	}
	if req.Version != "2.0" {
		return nil, fmt.Errorf("unsupported SAML version %q", req.Version)
	}
	return &req, nil
}

// ParseLogoutRequest parses the raw XML of a LogoutRequest.
func ParseLogoutRequest(xmlData []byte) (*LogoutRequest, error) {
	var req LogoutRequest
	if err := xml.Unmarshal(xmlData, &req); err != nil {
		return nil, fmt.Errorf("failed to parse LogoutRequest: %w", err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("LogoutRequest has no ID")
	}
	if req.NameID == nil || req.NameID.Value == "" {
		return nil, fmt.Errorf("LogoutRequest has no NameID")
	}
	return &req, nil
}

// ExtractSOAPRequest pulls the SAML message out of a SOAP envelope body.
// The returned bytes are the serialized first child element of soap:Body.
func ExtractSOAPRequest(envelope []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, fmt.Errorf("failed to parse SOAP envelope: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("not a SOAP envelope")
	}
	body := root.FindElement("./Body")
	if body == nil {
		return nil, fmt.Errorf("SOAP envelope has no Body")
	}
	children := body.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("SOAP Body is empty")
	}

	inner := etree.NewDocument()
	inner.SetRoot(children[0].Copy())
	out, err := inner.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize SOAP body: %w", err)
	}
	return out, nil
}

// WrapSOAPResponse wraps a SAML message document in a SOAP envelope for the
// SOAP binding's synchronous reply.
func WrapSOAPResponse(message *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("SOAP-ENV:Envelope")
	env.CreateAttr("xmlns:SOAP-ENV", NSSOAP)
	body := env.CreateElement("SOAP-ENV:Body")
	body.AddChild(message.Copy())
	return doc.WriteToBytes()
}
