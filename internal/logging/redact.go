package logging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redactedKey = "[REDACTED]"

// Secret logs a config.Secret as its length so a configured credential can
// be told apart from an empty one.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder hides sensitive keys entirely and scrubs credentials out
// of every other string value. Task titles, reasons and collaborator errors
// end up in log fields, so value scrubbing uses the same rules as outbound
// notifications.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	scrubber *secrets.Scrubber
}

// NewRedactingEncoder wraps base. A disabled config returns a pass-through
// encoder.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = struct{}{}
	}

	scrubber, err := secrets.New(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("secret rules: %w", err)
	}

	return &RedactingEncoder{Encoder: base, keys: keys, scrubber: scrubber}, nil
}

// sensitive matches whole keys and dotted suffixes, so "slack.token" and
// "store.postgres_dsn" are caught by "token" and "postgres_dsn".
func (e *RedactingEncoder) sensitive(key string) bool {
	if len(e.keys) == 0 {
		return false
	}
	key = strings.ToLower(key)
	if _, ok := e.keys[key]; ok {
		return true
	}
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		_, ok := e.keys[key[i+1:]]
		return ok
	}
	return false
}

// EncodeEntry redacts the message and per-entry fields. The wrapped encoder
// writes those fields to its own clone, bypassing the Add* overrides below,
// which only see fields attached with Logger.With.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.scrubber == nil && len(e.keys) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	ent.Message = e.scrubber.Scrub(ent.Message).Scrubbed
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.redactField(f)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) redactField(f zapcore.Field) zapcore.Field {
	if e.sensitive(f.Key) {
		return zap.String(f.Key, redactedKey)
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = e.scrubber.Scrub(f.String).Scrubbed
	case zapcore.ByteStringType:
		if b, ok := f.Interface.([]byte); ok {
			if res := e.scrubber.Scrub(string(b)); res.HasFindings() {
				return zap.ByteString(f.Key, []byte(res.Scrubbed))
			}
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if res := e.scrubber.Scrub(err.Error()); res.HasFindings() {
				return zap.String(f.Key, res.Scrubbed)
			}
		}
	case zapcore.StringerType:
		if st, ok := f.Interface.(fmt.Stringer); ok && st != nil {
			if res := e.scrubber.Scrub(st.String()); res.HasFindings() {
				return zap.String(f.Key, res.Scrubbed)
			}
		}
	}
	return f
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedKey)
		return
	}
	e.Encoder.AddString(key, e.scrubber.Scrub(val).Scrubbed)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddByteString(key, []byte(redactedKey))
		return
	}
	if res := e.scrubber.Scrub(string(val)); res.HasFindings() {
		e.Encoder.AddByteString(key, []byte(res.Scrubbed))
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddReflected hides the whole value for sensitive keys. Nested values are
// not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		scrubber: e.scrubber,
	}
}
