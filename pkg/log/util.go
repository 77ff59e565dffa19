package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns an alternating key/value argument list into zap fields.
// Inputs that do not fit the pairing are kept rather than dropped:
//
//   - a zap.Field is passed through unchanged
//   - a bare error becomes zap.Error
//   - a trailing unpaired value is logged under a synthesized key
//   - a non-string key is stringified so the value survives
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)

	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, fieldFor(key, args[i+1]))
		i += 2
	}

	return fields
}

// fieldFor picks a typed zap constructor where one exists so common values
// avoid the reflection path inside zap.Any.
func fieldFor(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int8:
		return zap.Int8(key, v)
	case int16:
		return zap.Int16(key, v)
	case int32:
		return zap.Int32(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint:
		return zap.Uint(key, v)
	case uint8:
		return zap.Uint8(key, v)
	case uint16:
		return zap.Uint16(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float32:
		return zap.Float32(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.String(key, v.String())
	case []byte:
		return zap.Binary(key, v)
	default:
		return zap.Any(key, v)
	}
}
