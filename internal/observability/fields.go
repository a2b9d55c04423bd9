package observability

import (
	"time"

	"go.uber.org/zap"
)

// Field aliases keep call sites independent of the zap import.

func String(key, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

func Error(err error) zap.Field { return zap.Error(err) }
