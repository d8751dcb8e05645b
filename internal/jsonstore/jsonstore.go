// Package jsonstore reads and rewrites structured JSON documents in place,
// merging or subtracting fixed-shape fragments without disturbing unrelated
// content. Reads tolerate comments and trailing commas; writes emit strict
// two-space indented JSON.
package jsonstore

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/crawlinknetworks/tray/internal/system"
)

const documentFilePermissions = 0o644

// Store applies document fragments to JSON files through a FileSystem.
type Store struct {
	fileSystem system.FileSystem
}

// NewStore constructs a Store.
func NewStore(fileSystem system.FileSystem) Store {
	return Store{fileSystem: fileSystem}
}

// Write applies the document to the file at path. With removeMode the
// document's content is subtracted from the existing file and containers left
// empty are pruned. With mergeExisting the document is merged into the
// existing content, appending missing array elements and overwriting scalar
// values. With neither, the file content is replaced by the document.
func (store Store) Write(path string, document map[string]any, mergeExisting bool, removeMode bool) error {
	normalized, normalizeErr := normalizeDocument(document)
	if normalizeErr != nil {
		return fmt.Errorf("normalize document: %w", normalizeErr)
	}

	if removeMode {
		existing, found, readErr := store.readDocument(path)
		if readErr != nil {
			return readErr
		}
		if !found {
			return nil
		}
		subtractDocument(existing, normalized)
		return store.writeDocument(path, existing)
	}

	if mergeExisting {
		existing, found, readErr := store.readDocument(path)
		if readErr != nil {
			return readErr
		}
		if !found {
			existing = map[string]any{}
		}
		mergeDocument(existing, normalized)
		return store.writeDocument(path, existing)
	}

	return store.writeDocument(path, normalized)
}

// Contains reports whether the document's content is fully present within the
// file at path. A missing or empty file never contains anything.
func (store Store) Contains(path string, document map[string]any) (bool, error) {
	normalized, normalizeErr := normalizeDocument(document)
	if normalizeErr != nil {
		return false, fmt.Errorf("normalize document: %w", normalizeErr)
	}
	existing, found, readErr := store.readDocument(path)
	if readErr != nil {
		return false, readErr
	}
	if !found {
		return false, nil
	}
	return documentContains(existing, normalized), nil
}

func (store Store) readDocument(path string) (map[string]any, bool, error) {
	exists, existsErr := store.fileSystem.FileExists(path)
	if existsErr != nil {
		return nil, false, fmt.Errorf("check document file: %w", existsErr)
	}
	if !exists {
		return nil, false, nil
	}
	content, readErr := store.fileSystem.ReadFile(path)
	if readErr != nil {
		return nil, false, fmt.Errorf("read document file: %w", readErr)
	}
	if len(content) == 0 {
		return map[string]any{}, true, nil
	}
	parsed := map[string]any{}
	if unmarshalErr := json.Unmarshal(jsonc.ToJSON(content), &parsed); unmarshalErr != nil {
		return nil, false, fmt.Errorf("parse document file %s: %w", path, unmarshalErr)
	}
	return parsed, true, nil
}

func (store Store) writeDocument(path string, document map[string]any) error {
	serialized, marshalErr := json.MarshalIndent(document, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("serialize document: %w", marshalErr)
	}
	serialized = append(serialized, '\n')
	if writeErr := store.fileSystem.WriteFile(path, serialized, documentFilePermissions); writeErr != nil {
		return fmt.Errorf("write document file: %w", writeErr)
	}
	return nil
}

// normalizeDocument round-trips the document through JSON so comparisons see
// the same value types regardless of how callers constructed it.
func normalizeDocument(document map[string]any) (map[string]any, error) {
	serialized, marshalErr := json.Marshal(document)
	if marshalErr != nil {
		return nil, marshalErr
	}
	normalized := map[string]any{}
	if unmarshalErr := json.Unmarshal(serialized, &normalized); unmarshalErr != nil {
		return nil, unmarshalErr
	}
	return normalized, nil
}

func mergeDocument(existing map[string]any, incoming map[string]any) {
	for key, incomingValue := range incoming {
		existingValue, present := existing[key]
		if !present {
			existing[key] = incomingValue
			continue
		}
		switch incomingTyped := incomingValue.(type) {
		case map[string]any:
			existingTyped, isMap := existingValue.(map[string]any)
			if !isMap {
				existing[key] = incomingTyped
				continue
			}
			mergeDocument(existingTyped, incomingTyped)
		case []any:
			existingTyped, isList := existingValue.([]any)
			if !isList {
				existing[key] = incomingTyped
				continue
			}
			existing[key] = appendMissingElements(existingTyped, incomingTyped)
		default:
			existing[key] = incomingValue
		}
	}
}

func appendMissingElements(existing []any, incoming []any) []any {
	for _, incomingElement := range incoming {
		if !listContains(existing, incomingElement) {
			existing = append(existing, incomingElement)
		}
	}
	return existing
}

func subtractDocument(existing map[string]any, incoming map[string]any) {
	for key, incomingValue := range incoming {
		existingValue, present := existing[key]
		if !present {
			continue
		}
		switch incomingTyped := incomingValue.(type) {
		case map[string]any:
			existingTyped, isMap := existingValue.(map[string]any)
			if !isMap {
				continue
			}
			subtractDocument(existingTyped, incomingTyped)
			if len(existingTyped) == 0 {
				delete(existing, key)
			}
		case []any:
			existingTyped, isList := existingValue.([]any)
			if !isList {
				continue
			}
			remaining := removeElements(existingTyped, incomingTyped)
			if len(remaining) == 0 {
				delete(existing, key)
				continue
			}
			existing[key] = remaining
		default:
			if valuesEqual(existingValue, incomingValue) {
				delete(existing, key)
			}
		}
	}
}

func removeElements(existing []any, unwanted []any) []any {
	remaining := make([]any, 0, len(existing))
	for _, existingElement := range existing {
		if !listContains(unwanted, existingElement) {
			remaining = append(remaining, existingElement)
		}
	}
	return remaining
}

func documentContains(existing map[string]any, expected map[string]any) bool {
	for key, expectedValue := range expected {
		existingValue, present := existing[key]
		if !present {
			return false
		}
		switch expectedTyped := expectedValue.(type) {
		case map[string]any:
			existingTyped, isMap := existingValue.(map[string]any)
			if !isMap || !documentContains(existingTyped, expectedTyped) {
				return false
			}
		case []any:
			existingTyped, isList := existingValue.([]any)
			if !isList {
				return false
			}
			for _, expectedElement := range expectedTyped {
				if !listContains(existingTyped, expectedElement) {
					return false
				}
			}
		default:
			if !valuesEqual(existingValue, expectedValue) {
				return false
			}
		}
	}
	return true
}

func listContains(list []any, candidate any) bool {
	for _, element := range list {
		if valuesEqual(element, candidate) {
			return true
		}
	}
	return false
}

func valuesEqual(first any, second any) bool {
	switch firstTyped := first.(type) {
	case map[string]any:
		secondTyped, isMap := second.(map[string]any)
		if !isMap || len(firstTyped) != len(secondTyped) {
			return false
		}
		return documentContains(firstTyped, secondTyped) && documentContains(secondTyped, firstTyped)
	case []any:
		secondTyped, isList := second.([]any)
		if !isList || len(firstTyped) != len(secondTyped) {
			return false
		}
		for index := range firstTyped {
			if !valuesEqual(firstTyped[index], secondTyped[index]) {
				return false
			}
		}
		return true
	default:
		return first == second
	}
}
