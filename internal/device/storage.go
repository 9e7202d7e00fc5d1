package device

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

const storageInfoTag = "INFO: "

// GetStorageInfo returns the storage_info object the device logs in
// response to the storage info command.
func (d *Device) GetStorageInfo(ctx context.Context) (map[string]any, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return nil, err
	}

	lines, err := fh.GetStorageInfo(ctx)
	if err != nil {
		return nil, err
	}
	return parseStorageInfo(lines)
}

// parseStorageInfo scans log lines for "INFO: {...}" and returns the first
// storage_info object found. Lines whose payload is not a JSON object are
// ordinary log messages and are skipped.
func parseStorageInfo(lines []string) (map[string]any, error) {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, storageInfoTag) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, storageInfoTag))
		if !strings.HasPrefix(payload, "{") {
			continue
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		raw, ok := doc["storage_info"]
		if !ok {
			continue
		}
		var info map[string]any
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		if info == nil {
			return nil, &ParseError{Line: line, Err: errors.New("storage_info is not an object")}
		}
		return info, nil
	}
	return nil, ErrStorageInfoNotImplemented
}
