package jsonstore_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/crawlinknetworks/tray/internal/jsonstore"
	"github.com/crawlinknetworks/tray/internal/system"
)

const documentFileName = "policies.json"

func installDocument(certificateName string) map[string]any {
	return map[string]any{
		"policies": map[string]any{
			"Certificates": map[string]any{
				"Install": []any{certificateName},
			},
		},
	}
}

func enterpriseRootsDocument() map[string]any {
	return map[string]any{
		"policies": map[string]any{
			"Certificates": map[string]any{
				"ImportEnterpriseRoots": true,
			},
		},
	}
}

func TestWriteReplacesFileContent(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)

	if err := store.Write(documentPath, enterpriseRootsDocument(), false, false); err != nil {
		t.Fatalf("write document: %v", err)
	}

	parsed := mustReadDocument(t, documentPath)
	policies, hasPolicies := parsed["policies"].(map[string]any)
	if !hasPolicies {
		t.Fatalf("expected policies object, got %v", parsed)
	}
	certificates, hasCertificates := policies["Certificates"].(map[string]any)
	if !hasCertificates {
		t.Fatalf("expected Certificates object, got %v", policies)
	}
	if certificates["ImportEnterpriseRoots"] != true {
		t.Fatalf("expected ImportEnterpriseRoots true, got %v", certificates)
	}
}

func TestWriteMergePreservesUnrelatedContent(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)
	mustWriteFile(t, documentPath, `{"policies":{"DisableTelemetry":true}}`)

	if err := store.Write(documentPath, installDocument("tray-root.crt"), true, false); err != nil {
		t.Fatalf("merge document: %v", err)
	}

	parsed := mustReadDocument(t, documentPath)
	policies := parsed["policies"].(map[string]any)
	if policies["DisableTelemetry"] != true {
		t.Fatalf("unrelated policy lost: %v", policies)
	}
	certificates := policies["Certificates"].(map[string]any)
	installed := certificates["Install"].([]any)
	if len(installed) != 1 || installed[0] != "tray-root.crt" {
		t.Fatalf("expected single install entry, got %v", installed)
	}
}

func TestWriteMergeIsIdempotent(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)

	if err := store.Write(documentPath, installDocument("tray-root.crt"), true, false); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	firstContent := mustReadFile(t, documentPath)
	if err := store.Write(documentPath, installDocument("tray-root.crt"), true, false); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	secondContent := mustReadFile(t, documentPath)

	if string(firstContent) != string(secondContent) {
		t.Fatalf("repeated merge changed content:\nfirst: %s\nsecond: %s", firstContent, secondContent)
	}
}

func TestWriteRemoveModeSubtractsAndPrunes(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)
	mustWriteFile(t, documentPath, `{"policies":{"Certificates":{"Install":["stale-root.crt"]},"DisableTelemetry":true}}`)

	if err := store.Write(documentPath, installDocument("stale-root.crt"), false, true); err != nil {
		t.Fatalf("remove document: %v", err)
	}

	parsed := mustReadDocument(t, documentPath)
	policies := parsed["policies"].(map[string]any)
	if _, stillPresent := policies["Certificates"]; stillPresent {
		t.Fatalf("expected Certificates pruned after removal, got %v", policies)
	}
	if policies["DisableTelemetry"] != true {
		t.Fatalf("unrelated policy lost during removal: %v", policies)
	}
}

func TestWriteRemoveModeIgnoresMissingFile(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)

	if err := store.Write(documentPath, installDocument("tray-root.crt"), false, true); err != nil {
		t.Fatalf("remove against missing file: %v", err)
	}
	if _, statErr := os.Stat(documentPath); !os.IsNotExist(statErr) {
		t.Fatalf("remove mode must not create the file, stat: %v", statErr)
	}
}

func TestContainsMatchesSubset(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)
	mustWriteFile(t, documentPath, `{"policies":{"Certificates":{"ImportEnterpriseRoots":true},"DisableTelemetry":true}}`)

	found, err := store.Contains(documentPath, enterpriseRootsDocument())
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !found {
		t.Fatal("expected document to be contained")
	}

	missing, missingErr := store.Contains(documentPath, installDocument("tray-root.crt"))
	if missingErr != nil {
		t.Fatalf("contains missing: %v", missingErr)
	}
	if missing {
		t.Fatal("expected install document to be absent")
	}
}

func TestContainsToleratesCommentedFiles(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)
	mustWriteFile(t, documentPath, "{\n  // managed by site administrator\n  \"policies\": {\"Certificates\": {\"ImportEnterpriseRoots\": true}},\n}\n")

	found, err := store.Contains(documentPath, enterpriseRootsDocument())
	if err != nil {
		t.Fatalf("contains commented file: %v", err)
	}
	if !found {
		t.Fatal("expected commented file to match")
	}
}

func TestContainsReportsFalseForMissingFile(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)

	found, err := store.Contains(documentPath, enterpriseRootsDocument())
	if err != nil {
		t.Fatalf("contains missing file: %v", err)
	}
	if found {
		t.Fatal("missing file must not contain the document")
	}
}

func TestWriteRejectsMalformedExistingContent(t *testing.T) {
	store := jsonstore.NewStore(system.NewOperatingSystemFileSystem())
	documentPath := filepath.Join(t.TempDir(), documentFileName)
	mustWriteFile(t, documentPath, "not json at all {{{")

	if err := store.Write(documentPath, enterpriseRootsDocument(), true, false); err == nil {
		t.Fatal("expected merge into malformed file to fail")
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func mustReadDocument(t *testing.T, path string) map[string]any {
	t.Helper()
	content := mustReadFile(t, path)
	parsed := map[string]any{}
	if err := json.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return parsed
}
