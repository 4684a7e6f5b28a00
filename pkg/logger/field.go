package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) apply(ev *zerolog.Event) {
	switch v := f.Value.(type) {
	case string:
		ev.Str(f.Key, v)
	case int:
		ev.Int(f.Key, v)
	case int64:
		ev.Int64(f.Key, v)
	case float64:
		ev.Float64(f.Key, v)
	case bool:
		ev.Bool(f.Key, v)
	case error:
		ev.AnErr(f.Key, v)
	case nil:
		ev.Interface(f.Key, nil)
	default:
		ev.Interface(f.Key, v)
	}
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Float64(key string, v float64) Field { return Field{key, v} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Any(key string, v interface{}) Field { return Field{key, v} }
func Strings(key string, v []string) Field { return Field{key, strings.Join(v, ",")} }

// Duration is logged in milliseconds.
func Duration(key string, d time.Duration) Field {
	return Field{key, d.Milliseconds()}
}

// Error logs under "error".
func Error(err error) Field { return Field{"error", err} }
