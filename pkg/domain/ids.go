package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custody/pkg/domain-errors"
)

// Address identifies a principal, wallet, or asset contract.
type Address = common.Address

// ZeroAddress is the mint source and burn sink of every token ledger.
var ZeroAddress = common.Address{}

// RequestID is the opaque identifier of an unstake or token request.
type RequestID common.Hash

// IdentityHash is the opaque key of a registered identity.
type IdentityHash common.Hash

// Country is an ISO-3166 numeric country code.
type Country uint16

func (r RequestID) Hex() string    { return common.Hash(r).Hex() }
func (r RequestID) String() string { return r.Hex() }
func (r RequestID) IsZero() bool   { return r == RequestID{} }

func (h IdentityHash) Hex() string    { return common.Hash(h).Hex() }
func (h IdentityHash) String() string { return h.Hex() }
func (h IdentityHash) IsZero() bool   { return h == IdentityHash{} }

func (r RequestID) MarshalText() ([]byte, error) { return common.Hash(r).MarshalText() }

func (r *RequestID) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (h IdentityHash) MarshalText() ([]byte, error) { return common.Hash(h).MarshalText() }

func (h *IdentityHash) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentityHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseAddress validates a 0x-prefixed hex address. The zero address is rejected.
func ParseAddress(s string) (Address, error) {
	if !utf8.ValidString(s) || !common.IsHexAddress(s) || !strings.HasPrefix(s, "0x") {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address")
	}
	addr := common.HexToAddress(s)
	if addr == ZeroAddress {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "zero address is not allowed")
	}
	return addr, nil
}

// ParseRequestID validates a 0x-prefixed 32-byte hex request id.
func ParseRequestID(s string) (RequestID, error) {
	h, err := parseHash(s, "request id")
	if err != nil {
		return RequestID{}, err
	}
	return RequestID(h), nil
}

// ParseIdentityHash validates a 0x-prefixed 32-byte hex identity hash.
func ParseIdentityHash(s string) (IdentityHash, error) {
	h, err := parseHash(s, "identity hash")
	if err != nil {
		return IdentityHash{}, err
	}
	return IdentityHash(h), nil
}

func parseHash(s, label string) (common.Hash, error) {
	if len(s) != 2+2*common.HashLength || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	for _, c := range s[2:] {
		if !isHexDigit(c) {
			return common.Hash{}, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
		}
	}
	h := common.HexToHash(s)
	if h == (common.Hash{}) {
		return common.Hash{}, dErrors.New(dErrors.CodeInvalidInput, label+" must not be zero")
	}
	return h, nil
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
