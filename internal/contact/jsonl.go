package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ImportResult contains statistics about a JSONL read.
type ImportResult struct {
	Contacts []Contact
	Records  int
	Errors   []string
}

// ReadJSONL decodes one contact per line.
// Records that are valid JSON but do not fit the contact shape are recorded in
// Errors and skipped so a single bad row does not abort an import.
func ReadJSONL(r io.Reader) (*ImportResult, error) {
	result := &ImportResult{}
	decoder := json.NewDecoder(r)

	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", result.Records+1, err)
		}
		result.Records++

		var c Contact
		if err := json.Unmarshal(raw, &c); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", result.Records, err))
			continue
		}
		result.Contacts = append(result.Contacts, c)
	}

	return result, nil
}

// ReadJSONLFile opens path and decodes it with ReadJSONL.
func ReadJSONLFile(path string) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// WriteJSONL encodes contacts one per line.
func WriteJSONL(w io.Writer, contacts []Contact) error {
	encoder := json.NewEncoder(w)
	for i := range contacts {
		if err := encoder.Encode(&contacts[i]); err != nil {
			return fmt.Errorf("failed to encode contact %s: %w", contacts[i].ID, err)
		}
	}
	return nil
}
