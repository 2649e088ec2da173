package bot

import (
	"fmt"
	"strings"
)

// ParseClassArg extracts a class identifier such as "10Б" from command
// arguments. Letters are upper-cased to match the document header.
func ParseClassArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", fmt.Errorf("class is required")
	}
	if len(parts) > 1 {
		return "", fmt.Errorf("class must be a single word, got %q", strings.TrimSpace(args))
	}
	return strings.ToUpper(parts[0]), nil
}
