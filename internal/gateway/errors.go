package gateway

import (
	"encoding/json"
	"strings"
)

// detail is FastAPI's "detail" member: a string for HTTPException, a list of
// {loc, msg, type} objects for request validation failures.
type detail string

func (d *detail) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = detail(s)
		return nil
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(data, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		*d = detail(strings.Join(msgs, "; "))
		return nil
	}
	// Unknown shape: keep the raw JSON rather than failing the whole decode.
	*d = detail(strings.TrimSpace(string(data)))
	return nil
}

// text picks the most specific server message, or fallback.
func (e errorBody) text(fallback string) string {
	for _, s := range []string{e.Error, string(e.Detail), e.Message} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fallback
}
