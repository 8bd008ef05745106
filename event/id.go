package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a channel or message identifier. Sources disagree on whether these
// are numbers or strings, so both are carried without conversion.
type ID struct {
	str   string
	num   int64
	isNum bool
	set   bool
}

// StringID wraps a textual identifier. An empty string yields the zero ID.
func StringID(s string) ID {
	if s == "" {
		return ID{}
	}
	return ID{str: s, set: true}
}

// IntID wraps a numeric identifier.
func IntID(n int64) ID { return ID{num: n, isNum: true, set: true} }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return !id.set }

// Int returns the numeric value when the identifier is numeric.
func (id ID) Int() (int64, bool) { return id.num, id.set && id.isNum }

func (id ID) String() string {
	switch {
	case !id.set:
		return ""
	case id.isNum:
		return strconv.FormatInt(id.num, 10)
	default:
		return id.str
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.set:
		return []byte("null"), nil
	case id.isNum:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return json.Marshal(id.str)
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("identifier %s is neither string nor integer", data)
	}
	*id = IntID(n)
	return nil
}
