package cache

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is a cached list and the time it was written.
type Entry[T any] struct {
	Key       string
	Data      []T
	Timestamp time.Time
}

// Age returns how long ago the entry was written.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// FreshAt reports whether the entry is younger than maxAge at now.
func (e *Entry[T]) FreshAt(now time.Time, maxAge time.Duration) bool {
	return e.Age(now) < maxAge
}

// envelope is the persisted form of an entry. The timestamp is kept in unix
// milliseconds so entries written by other clients of the same store decode.
type envelope[T any] struct {
	Data      []T   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// rawEnvelope decodes an entry without knowing its element type.
type rawEnvelope struct {
	Data      jsoniter.RawMessage `json:"data"`
	Timestamp int64               `json:"timestamp"`
}

func encodeEntry[T any](data []T, ts time.Time) (string, error) {
	if data == nil {
		data = []T{}
	}
	return json.MarshalToString(envelope[T]{Data: data, Timestamp: ts.UnixMilli()})
}

func decodeEntry[T any](key, raw string) (*Entry[T], error) {
	var env envelope[T]
	if err := json.UnmarshalFromString(raw, &env); err != nil {
		return nil, err
	}
	return &Entry[T]{Key: key, Data: env.Data, Timestamp: time.UnixMilli(env.Timestamp)}, nil
}
