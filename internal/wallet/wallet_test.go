package wallet

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewAccountDerivesAddress(t *testing.T) {
	account, err := NewAccount(testKeyHex)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if account.Address() == ([20]byte{}) {
		t.Fatal("expected derived address to be non-zero")
	}

	prefixed, err := NewAccount("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("new account with 0x prefix: %v", err)
	}
	if prefixed.Address() != account.Address() {
		t.Fatalf("prefix handling changed derived address: %s vs %s", prefixed.Address(), account.Address())
	}
}

func TestNewAccountRejectsBadKey(t *testing.T) {
	if _, err := NewAccount(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewAccount("not-a-key"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestExportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet_data.txt")

	missing, err := ReadExport(path)
	if err != nil {
		t.Fatalf("read missing export: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil export when file does not exist")
	}

	data := ExportData{
		Address:   "0x1111111111111111111111111111111111111111",
		NetworkID: "base-sepolia",
		Provider:  json.RawMessage(`{"seed":"opaque"}`),
	}
	if err := WriteExport(path, data); err != nil {
		t.Fatalf("write export: %v", err)
	}

	restored, err := ReadExport(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if restored == nil {
		t.Fatal("expected export data after write")
	}
	if restored.Address != data.Address || restored.NetworkID != data.NetworkID {
		t.Fatalf("unexpected export data: %+v", restored)
	}
	if string(restored.Provider) != string(data.Provider) {
		t.Fatalf("provider blob changed: %s", restored.Provider)
	}
}
