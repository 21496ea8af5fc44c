package types

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Field is a JSON scalar kept in its display form. Upstream payloads mix
// strings, numbers and booleans for the same logical value; absence and null
// both decode to the empty Field.
type Field string

func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Field(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*f = Field(strconv.FormatBool(b))
	case '{', '[':
		*f = Field(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = Field(n.String())
	}
	return nil
}

// Or returns the field value, or fallback when the field is empty.
func (f Field) Or(fallback string) string {
	if f == "" {
		return fallback
	}
	return string(f)
}
