package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Pagination is a keyset page request. PageToken is an opaque cursor produced
// by EncodeCursor for the last row of the previous page.
type Pagination struct {
	PageToken string `json:"pageToken,omitempty" form:"page_token"`
	PageSize  int    `json:"pageSize,omitempty" form:"page_size"`
}

// Normalize clamps the page size into [1, MaxPageSize].
func (p Pagination) Normalize() Pagination {
	p.PageToken = strings.TrimSpace(p.PageToken)
	switch {
	case p.PageSize <= 0:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

type PageInfo struct {
	NextPageToken string `json:"nextPageToken,omitempty"`
	HasMore       bool   `json:"hasMore"`
}

type Cursor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return c, ErrInvalidPageToken
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, ErrInvalidPageToken
	}
	if c.ID == "" || c.CreatedAt == "" {
		return c, ErrInvalidPageToken
	}
	return c, nil
}

// BuildCursorPageInfo expects items to be fetched with pageSize+1 rows so the
// extra row signals another page.
func BuildCursorPageInfo[T any](items []T, pageSize int, tokenFn func(T) string) *PageInfo {
	if pageSize <= 0 {
		return nil
	}
	info := &PageInfo{}
	if len(items) > pageSize {
		info.HasMore = true
		info.NextPageToken = tokenFn(items[pageSize-1])
	}
	return info
}
