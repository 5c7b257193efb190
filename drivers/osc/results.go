package osc

import (
	"encoding/json"
	"strings"
)

// Result fields carrying file locations.
const (
	FieldFileGroup = "_fileGroup"
	FieldFileURL   = "fileUrl"
	FieldFileURLs  = "fileUrls"
)

// ExtractFileURLs reads file locations from a results object. The first of
// fields that is present and not empty wins. Cameras report the list either
// as a JSON-array-looking string or as a real array, both are normalized the same way.
func ExtractFileURLs(results json.RawMessage, fields ...string) ([]string, error) {
	value, found, err := lookupFileList(results, fields...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &ProtocolError{Message: "results contain none of " + strings.Join(fields, ", ")}
	}
	return SplitFileURLs(value), nil
}

func lookupFileList(results json.RawMessage, fields ...string) (string, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(results, &obj); err != nil {
		return "", false, &ProtocolError{Message: "malformed results object: " + err.Error()}
	}
	for _, field := range fields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		value := fieldText(raw)
		if value == "" || value == "[]" || value == "null" {
			continue
		}
		return value, true, nil
	}
	return "", false, nil
}

func fieldText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

var fileListReplacer = strings.NewReplacer("[", "", "]", "", `\/`, "/")

// SplitFileURLs normalizes `["a.jpg","b.jpg"]` style text into its elements.
func SplitFileURLs(value string) []string {
	parts := strings.Split(fileListReplacer.Replace(value), ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ReplaceAll(p, `"`, ""))
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// OrderRecordingFiles puts the primary lens file first. Some cameras return
// the pair of a stopped recording as [*_10_*, *_00_*].
func OrderRecordingFiles(files []string) []string {
	if len(files) == 2 && strings.Contains(files[0], "_10_") && strings.Contains(files[1], "_00_") {
		return []string{files[1], files[0]}
	}
	return files
}
