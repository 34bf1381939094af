package certs

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestGetOrCreateIssuesCertificate(t *testing.T) {
	dir := t.TempDir()

	cert, err := GetOrCreate(dir)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("expected a certificate chain")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse issued certificate: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate not valid for localhost: %v", err)
	}

	for _, name := range []string{"server.crt", "server.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
}

func TestGetOrCreateReusesCachedCertificate(t *testing.T) {
	dir := t.TempDir()

	first, err := GetOrCreate(dir)
	if err != nil {
		t.Fatalf("first GetOrCreate() error = %v", err)
	}
	second, err := GetOrCreate(dir)
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}

	firstLeaf, _ := x509.ParseCertificate(first.Certificate[0])
	secondLeaf, _ := x509.ParseCertificate(second.Certificate[0])
	if firstLeaf.SerialNumber.Cmp(secondLeaf.SerialNumber) != 0 {
		t.Error("expected the cached certificate to be reused")
	}
}

func TestGetOrCreateReplacesCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := GetOrCreate(dir); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "server.crt"), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}

	cert, err := GetOrCreate(dir)
	if err != nil {
		t.Fatalf("GetOrCreate() after corruption error = %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("expected a reissued certificate")
	}
}
