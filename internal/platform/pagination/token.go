package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type cursor struct {
	AfterID string `json:"afterId"`
}

// EncodeToken serialises an after-item cursor into an opaque URL-safe page
// token. An empty id yields an empty token.
func EncodeToken(afterID string) string {
	afterID = strings.TrimSpace(afterID)
	if afterID == "" {
		return ""
	}
	data, err := json.Marshal(cursor{AfterID: afterID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses a page token produced by EncodeToken back into the
// after-item id. An empty token decodes to an empty id.
func DecodeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var c cursor
	if err := json.Unmarshal(decoded, &c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(c.AfterID) == "" {
		return "", fmt.Errorf("%w: missing cursor", ErrInvalidPageToken)
	}
	return c.AfterID, nil
}
