// FILE: lixenwraith/transport/record.go
package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Record is one serialized log record. It is never mutated after submission.
type Record []byte

// newRecord copies p and appends the separator. Callers may reuse p afterwards.
func newRecord(p []byte, sep string) Record {
	r := make(Record, len(p), len(p)+len(sep))
	copy(r, p)
	return append(r, sep...)
}

// rawDumper renders values that have no direct raw representation.
var rawDumper = &spew.ConfigState{
	Indent:                  " ",
	MaxDepth:                10,
	DisablePointerAddresses: true, // Cleaner for logs
	DisableCapacities:       true, // Less noise
	SortKeys:                true, // Consistent map output
}

// appendRaw appends args space-separated, without a trailing separator.
func appendRaw(buf []byte, args []any) []byte {
	for i, arg := range args {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = appendRawValue(buf, arg)
	}
	return buf
}

// appendRawValue converts any value to its raw representation, falling back
// to spew with type information for structs, maps, pointers and slices.
func appendRawValue(buf []byte, v any) []byte {
	switch val := v.(type) {
	case string:
		return append(buf, val...)
	case int:
		return strconv.AppendInt(buf, int64(val), 10)
	case int64:
		return strconv.AppendInt(buf, val, 10)
	case int32:
		return strconv.AppendInt(buf, int64(val), 10)
	case uint:
		return strconv.AppendUint(buf, uint64(val), 10)
	case uint64:
		return strconv.AppendUint(buf, val, 10)
	case float32:
		return strconv.AppendFloat(buf, float64(val), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(buf, val, 'f', -1, 64)
	case bool:
		return strconv.AppendBool(buf, val)
	case nil:
		return append(buf, "nil"...)
	case time.Time:
		return val.AppendFormat(buf, time.RFC3339Nano)
	case error:
		return append(buf, val.Error()...)
	case fmt.Stringer:
		return append(buf, val.String()...)
	case []byte:
		// Hex keeps control bytes out of line-oriented sinks
		return hex.AppendEncode(buf, val)
	default:
		// Inline form: a multi-line dump would split the record in line-oriented sinks
		var b bytes.Buffer
		rawDumper.Fprintf(&b, "%+v", val)
		return append(buf, b.Bytes()...)
	}
}
