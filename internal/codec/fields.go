package codec

import (
	"math"
	"time"

	"github.com/roach88/tasksync/internal/doc"
)

const dateLayout = time.RFC3339Nano

func requiredID(kind string, m doc.Map) (string, error) {
	v, ok := m["id"]
	if !ok {
		return "", &DecodeError{Kind: kind, Field: "id", Reason: "is missing"}
	}
	s, ok := v.(doc.String)
	if !ok {
		return "", &DecodeError{Kind: kind, Field: "id", Reason: "is not a string"}
	}
	if s == "" {
		return "", &DecodeError{Kind: kind, Field: "id", Reason: "is empty"}
	}
	return string(s), nil
}

func requiredString(kind, id string, m doc.Map, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", &DecodeError{Kind: kind, DocumentID: id, Field: key, Reason: "is missing"}
	}
	s, ok := v.(doc.String)
	if !ok {
		return "", &DecodeError{Kind: kind, DocumentID: id, Field: key, Reason: "is not a string"}
	}
	return string(s), nil
}

func optString(m doc.Map, key string) string {
	if s, ok := m[key].(doc.String); ok {
		return string(s)
	}
	return ""
}

func optBool(m doc.Map, key string) bool {
	if b, ok := m[key].(doc.Bool); ok {
		return bool(b)
	}
	return false
}

func optMap(m doc.Map, key string) (doc.Map, bool) {
	v, ok := m[key].(doc.Map)
	return v, ok
}

// optArray returns nil when the key is absent or not an array, and a
// non-nil slice (possibly empty) otherwise.
func optArray(m doc.Map, key string) (doc.Array, bool) {
	v, ok := m[key].(doc.Array)
	return v, ok
}

func optTime(m doc.Map, key string) (time.Time, bool) {
	return decodeTime(m[key])
}

func optTimePtr(m doc.Map, key string) *time.Time {
	t, ok := optTime(m, key)
	if !ok {
		return nil
	}
	return &t
}

// decodeTime accepts RFC 3339 strings, epoch seconds and the
// {seconds, nanoseconds} timestamp shape some document stores export.
func decodeTime(v doc.Value) (time.Time, bool) {
	switch val := v.(type) {
	case doc.String:
		t, err := time.Parse(dateLayout, string(val))
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case doc.Int:
		return time.Unix(int64(val), 0).UTC(), true
	case doc.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
	case doc.Map:
		sec, ok := val["seconds"].(doc.Int)
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := val["nanoseconds"].(doc.Int)
		return time.Unix(int64(sec), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}

func encodeTime(t time.Time) doc.String {
	return doc.String(t.UTC().Format(dateLayout))
}

// putString sets key only when s is non-empty.
func putString(m doc.Map, key, s string) {
	if s != "" {
		m[key] = doc.String(s)
	}
}

func putTime(m doc.Map, key string, t time.Time) {
	if !t.IsZero() {
		m[key] = encodeTime(t)
	}
}

func putTimePtr(m doc.Map, key string, t *time.Time) {
	if t != nil {
		m[key] = encodeTime(*t)
	}
}
