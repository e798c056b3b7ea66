package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const signaturePrefix = "hmac-sha256:"

// Signer signs CaseAudit records with HMAC-SHA256 over their canonical
// form: the JSON encoding of the record with the signature field zeroed.
// Field order is stable because encoding/json emits struct fields in
// declaration order, so re-signing an unmodified record always reproduces
// the stored signature.
type Signer struct {
	key []byte
}

// NewSigner creates a signer. The key must be at least 32 raw bytes, or
// 64+ hex characters decoding to at least 32 bytes.
func NewSigner(key string) (*Signer, error) {
	keyBytes, err := resolveSigningKey(key)
	if err != nil {
		return nil, err
	}
	return &Signer{key: keyBytes}, nil
}

// resolveSigningKey interprets anything that looks like hex as hex, so a
// truncated or odd-length hex key fails loudly instead of being silently
// accepted as a raw key.
func resolveSigningKey(key string) ([]byte, error) {
	if len(key) >= 64 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("signing key is not valid hex: %w", err)
		}
		if len(decoded) < 32 {
			return nil, fmt.Errorf("signing key hex must decode to at least 32 bytes (got %d)", len(decoded))
		}
		return decoded, nil
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes (got %d)", len(key))
	}
	return []byte(key), nil
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// canonical returns the bytes a record's signature covers.
func canonical(ca *CaseAudit) ([]byte, error) {
	unsigned := *ca
	unsigned.Signature = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit record: %w", err)
	}
	return payload, nil
}

// SignRecord computes the signature for a record without modifying it.
func (s *Signer) SignRecord(ca *CaseAudit) (string, error) {
	payload, err := canonical(ca)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyRecord reports whether the record's stored signature matches its
// canonical content. A false result means the record was altered after
// it was signed, or was signed with a different key.
func (s *Signer) VerifyRecord(ca *CaseAudit) (bool, error) {
	expected, err := s.SignRecord(ca)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(ca.Signature)), nil
}
