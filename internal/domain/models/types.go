package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// JSON type for JSONB columns and free-form event payloads
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("failed to scan JSON: not a byte slice")
	}
}

// SnowflakeID is the 64-bit identifier of every engine entity. Its external
// form is the Base58 short code.
type SnowflakeID int64

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
	idNodeNum  int64 = 1
)

// SetSnowflakeNode selects the node number used by NewSnowflakeID. It must be
// called before the first ID is generated.
func SetSnowflakeNode(node int64) {
	idNodeNum = node
}

func NewSnowflakeID() SnowflakeID {
	idNodeOnce.Do(func() {
		n, err := snowflake.NewNode(idNodeNum)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		idNode = n
	})
	return SnowflakeID(idNode.Generate().Int64())
}

func (id SnowflakeID) IsZero() bool {
	return id == 0
}

func (id SnowflakeID) ShortCode() string {
	return snowflake.ID(id).Base58()
}

func (id SnowflakeID) String() string {
	return id.ShortCode()
}

func (id SnowflakeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.ShortCode())
}

func (id *SnowflakeID) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSnowflakeID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseSnowflakeID accepts a SnowflakeID, an integer, a JSON number, a
// decimal string or a short code.
func ParseSnowflakeID(v interface{}) (SnowflakeID, error) {
	switch t := v.(type) {
	case SnowflakeID:
		return t, nil
	case *SnowflakeID:
		if t == nil {
			return 0, errors.New("nil snowflake id")
		}
		return *t, nil
	case int64:
		return SnowflakeID(t), nil
	case int:
		return SnowflakeID(t), nil
	case float64:
		return SnowflakeID(int64(t)), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, err
		}
		return SnowflakeID(n), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, errors.New("empty snowflake id")
		}
		if id, err := snowflake.ParseBase58([]byte(s)); err == nil {
			return SnowflakeID(id.Int64()), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid snowflake id %q", s)
		}
		return SnowflakeID(n), nil
	default:
		return 0, fmt.Errorf("unsupported snowflake id type %T", v)
	}
}
