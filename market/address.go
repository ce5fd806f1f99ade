package market

import (
	"encoding/hex"
	"fmt"
)

// Address identifies a participant (lender, the borrower, the controller,
// the fee recipient, or the sentinel) within a market. It is a thin,
// comparable identifier; the core never interprets its bytes beyond
// equality and map-key use — key derivation and signature verification are
// the concern of the hosting environment, per spec.md's scope notes on
// token transfer plumbing and authorization layers being external
// collaborators.
type Address [20]byte

// ZeroAddress is the unset address sentinel.
var ZeroAddress Address

// IsZero reports whether the address has never been assigned.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String renders the address as a hex string for logging and events.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText renders the address as hex for JSON persistence, so stored
// records read as plain strings rather than byte arrays.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("market: invalid address %q: %w", text, err)
	}
	*a = BytesToAddress(b)
	return nil
}

// BytesToAddress left-pads or truncates b to 20 bytes and returns the
// resulting Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	copy(a[len(a)-len(b):], b)
	return a
}
