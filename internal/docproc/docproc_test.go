package docproc

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleDoc = `PASSPORT
Name: Jane Roe
Date of Birth: 1990-04-12
Passport No: X1234567
Address: 12 High Street, London
Expiry: 2030-01-01
Gender: F
United Kingdom
`

func TestSaveWritesFileAndHash(t *testing.T) {
	dir := t.TempDir()
	relPath, hash, err := Save(dir, "kyc-1", "passport.txt", []byte(sampleDoc))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if relPath != "uploads/kyc-1/passport.txt" {
		t.Fatalf("rel path = %q", relPath)
	}
	if len(hash) != 64 {
		t.Fatalf("hash = %q", hash)
	}
	b, err := os.ReadFile(filepath.Join(dir, "kyc-1", "passport.txt"))
	if err != nil || string(b) != sampleDoc {
		t.Fatalf("stored content mismatch: %v", err)
	}
}

func TestSaveStripsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Save(dir, "kyc-1", "../../evil.txt", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "kyc-1", "evil.txt")); err != nil {
		t.Fatalf("expected file inside kyc dir: %v", err)
	}
}

func TestExtractFields(t *testing.T) {
	got := Extract([]byte(sampleDoc))
	if got["name"] != "Jane Roe" {
		t.Fatalf("name = %v", got["name"])
	}
	if got["dob"] != "1990-04-12" {
		t.Fatalf("dob = %v", got["dob"])
	}
	if got["document_number"] != "X1234567" {
		t.Fatalf("document_number = %v", got["document_number"])
	}
	if got["gender"] != "female" {
		t.Fatalf("gender = %v", got["gender"])
	}
	if got["nationality"] != "United Kingdom" {
		t.Fatalf("nationality = %v", got["nationality"])
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	got := Extract([]byte("nothing useful here"))
	if len(got) != 0 {
		t.Fatalf("expected empty extraction, got %v", got)
	}
}

func TestQuality(t *testing.T) {
	full := Extract([]byte(sampleDoc))
	empty := Extract([]byte(""))
	qFull, qEmpty := Quality(full), Quality(empty)
	if qFull <= qEmpty {
		t.Fatalf("richer extraction should score higher: %f vs %f", qFull, qEmpty)
	}
	if qEmpty < 0.5 || qFull > 1 {
		t.Fatalf("quality out of range: %f %f", qEmpty, qFull)
	}
}
