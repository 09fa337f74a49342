// Package faas carries the serialization contract between the device
// runtime and the fabric. The parser is a bidirectional codec between a
// value and an opaque string blob; the core only ever calls Serialize and
// Deserialize and never inspects the blob. Function bodies are registered
// up front as compiled payloads and fingerprinted over their serialized
// form, so the same body always maps to the same content address.
package faas

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
)

// Parser encodes values and function parameters into opaque blobs for the
// wire and decodes execution results back.
type Parser interface {
	Serialize(v any) (string, error)
	Deserialize(blob string) (any, error)
}

// B64Parser is the default codec: JSON inside base64. The blob stays
// opaque to every other package.
type B64Parser struct{}

// NewParser returns the default parser.
func NewParser() *B64Parser {
	return &B64Parser{}
}

// Serialize encodes a value into an opaque blob.
func (p *B64Parser) Serialize(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Deserialize decodes a blob produced by Serialize (or by the fabric's
// symmetric encoder) back into a value.
func (p *B64Parser) Deserialize(blob string) (any, error) {
	if blob == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("deserialize value: %w", err)
	}
	return v, nil
}

// SerializeFunction encodes a registered function body into the blob
// shipped to the content store.
func SerializeFunction(fn *domain.FaasFunction) string {
	return base64.StdEncoding.EncodeToString(fn.Payload)
}

// Fingerprint returns the hex SHA-256 content hash of a serialized
// function blob. It keys the upload cache and travels as FC_HASH, so the
// digest is never truncated.
func Fingerprint(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}
