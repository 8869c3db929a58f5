package domain

import "github.com/mr-tron/base58"

// IsTokenAddress reports whether addr has the shape of a Solana mint
// address: base58 text decoding to a 32-byte public key.
//
// The store itself only requires a non-empty address; this stricter check
// belongs at the ingestion boundary where addresses arrive from outside.
func IsTokenAddress(addr string) bool {
	if addr == "" {
		return false
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(raw) == 32
}
