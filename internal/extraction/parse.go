package extraction

import (
	"fmt"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// parseExtraction pulls the JSON object out of a model response
func parseExtraction(text string) (invoice.Raw, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	raw, err := invoice.ParseRaw([]byte(text[startIdx : endIdx+1]))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return raw, nil
}
