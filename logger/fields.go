package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func RemoteAddr(v string) zap.Field {
	return zap.String("remote_addr", v)
}

// DurationMs records d in milliseconds.
func DurationMs(d time.Duration) zap.Field {
	return zap.Int64("duration_ms", d.Milliseconds())
}

// Signature fields.

func KeyID(v string) zap.Field { return zap.String("key_id", v) }
func Owner(v string) zap.Field { return zap.String("owner", v) }

// RejectKind records why a signed request was refused.
func RejectKind(v string) zap.Field { return zap.String("reject_kind", v) }

// Federation fields.

func Actor(v string) zap.Field        { return zap.String("actor", v) }
func ActivityType(v string) zap.Field { return zap.String("activity_type", v) }
func Inbox(v string) zap.Field        { return zap.String("inbox", v) }
func Attempt(v int) zap.Field         { return zap.Int("attempt", v) }

// Component names the subsystem emitting the entry.
func Component(v string) zap.Field { return zap.String("component", v) }

// Err records an error.
func Err(err error) zap.Field { return zap.Error(err) }
