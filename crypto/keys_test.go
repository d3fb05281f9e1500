package crypto

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != addr.Raw() {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeAddressRejectsWrongPrefix(t *testing.T) {
	converted, err := bech32.ConvertBits(make([]byte, AddressLength), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	foreign, err := bech32.Encode("xx", converted)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(foreign); err == nil {
		t.Fatalf("expected prefix rejection")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-an-address"); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func TestPrivateKeyHexRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromHex(key.Hex())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address().Raw() != key.PubKey().Address().Raw() {
		t.Fatalf("restored key yields different address")
	}
}
