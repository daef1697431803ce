package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"reddot-watch/newsbatch/internal/partition"
)

const cursorSeparator = ","

// EncodeCursor creates an opaque cursor pointing at offset within the
// partition for date.
func EncodeCursor(date string, offset int) string {
	key := fmt.Sprintf("%s%s%d", date, cursorSeparator, offset)
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor parses the opaque cursor string back into date and offset.
func DecodeCursor(encodedCursor string) (string, int, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return "", 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decodedBytes), cursorSeparator, 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid cursor format")
	}

	if _, err := partition.ParseDate(parts[0]); err != nil {
		return "", 0, fmt.Errorf("invalid date in cursor: %w", err)
	}

	offset, err := strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("invalid offset in cursor: %q", parts[1])
	}

	return parts[0], offset, nil
}
