package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/cropbox/pkg/types"
)

// ErrSerialization marks unreadable result field content
var ErrSerialization = errors.New("session: malformed crop results")

// EncodeResults serializes results as a JSON array. Slots never captured are
// written as null so indices stay aligned with the crop specifications.
func EncodeResults(results []*types.CropResult) (string, error) {
	if results == nil {
		results = []*types.CropResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode crop results: %w", err)
	}
	return string(data), nil
}

// DecodeResults parses the serialized form. Blank input yields an empty slice.
func DecodeResults(s string) ([]*types.CropResult, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return []*types.CropResult{}, nil
	}
	var results []*types.CropResult
	if err := json.Unmarshal([]byte(s), &results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return results, nil
}

// setResult stores r at index, growing the slice with empty slots as needed
func setResult(results []*types.CropResult, index int, r types.CropResult) []*types.CropResult {
	for len(results) <= index {
		results = append(results, nil)
	}
	results[index] = &r
	return results
}
