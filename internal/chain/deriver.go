package chain

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

// EscrowDeriver derives per-order stablecoin deposit addresses from an
// account-level xpub (path m/44'/118'/0'/0, child index per order).
type EscrowDeriver struct {
	XPub   string
	Prefix string
}

// Configured reports whether escrow derivation is available.
func (d EscrowDeriver) Configured() bool {
	return d.XPub != "" && d.Prefix != ""
}

func (d EscrowDeriver) Derive(index uint32) (string, error) {
	if d.XPub == "" {
		return "", errors.New("xpub is not configured")
	}
	if d.Prefix == "" {
		return "", errors.New("bech32 prefix is not configured")
	}

	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return "", err
	}
	child, err := key.Derive(index)
	if err != nil {
		return "", err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	compressed := pubKey.SerializeCompressed()
	hash := sha256.Sum256(compressed)
	rip := ripemd160.New()
	_, _ = rip.Write(hash[:])
	addr := rip.Sum(nil)

	converted, err := bech32.ConvertBits(addr, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(d.Prefix, converted)
}

// ValidAddress reports whether addr is a well-formed bech32 address.
func ValidAddress(addr string) bool {
	_, _, err := bech32.DecodeNoLimit(addr)
	return err == nil
}
