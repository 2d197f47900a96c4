package schema

import (
	"bytes"
	"fmt"
	"strconv"
)

// FlexInt decodes a fixed-point integer that some endpoints emit as a
// bare JSON number and others as a quoted string.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse fixed-point integer %q: %w", data, err)
	}
	*f = FlexInt(v)
	return nil
}

// Amount returns the value as a fixed-point Amount.
func (f FlexInt) Amount() Amount { return int64(f) }
