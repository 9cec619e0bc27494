package repositories

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Stored documents are plain trees of maps, slices, strings, bools and float64.
// Times are tagged as {"$ts": unix micros}. A ServerTimestamp not yet resolved
// by the backend is tagged as {"$serverTimestamp": true}.
const (
	timeTag            = "$ts"
	serverTimestampTag = "$serverTimestamp"
)

var serverTimestampPlaceholder = map[string]any{serverTimestampTag: true}

// encodeFields converts fields into the stored tree. When stamp is non-zero every
// ServerTimestamp is resolved to it, otherwise the placeholder is kept for the backend.
func encodeFields(fields contract.Fields, stamp time.Time) (map[string]any, error) {
	res := make(map[string]any, len(fields))
	for k, v := range fields {
		encoded, err := encodeValue(v, stamp)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		res[k] = encoded
	}
	return res, nil
}

func encodeValue(v any, stamp time.Time) (any, error) {
	if v == any(contract.ServerTimestamp) {
		if stamp.IsZero() {
			return serverTimestampPlaceholder, nil
		}
		return map[string]any{timeTag: float64(stamp.UnixMicro())}, nil
	}
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case time.Time:
		return map[string]any{timeTag: float64(val.UnixMicro())}, nil
	case contract.Fields:
		return encodeFields(val, stamp)
	case map[string]any:
		return encodeFields(val, stamp)
	case []any:
		return encodeSlice(val, stamp)
	case []map[string]any:
		return encodeSlice(lo.ToAnySlice(val), stamp)
	case []string:
		return encodeSlice(lo.ToAnySlice(val), stamp)
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnsupportedValue, v)
	}
}

func encodeSlice(values []any, stamp time.Time) ([]any, error) {
	res := make([]any, 0, len(values))
	for _, v := range values {
		encoded, err := encodeValue(v, stamp)
		if err != nil {
			return nil, err
		}
		res = append(res, encoded)
	}
	return res, nil
}

// decodeFields turns a stored tree back into document fields.
func decodeFields(data map[string]any) contract.Fields {
	res := make(contract.Fields, len(data))
	for k, v := range data {
		res[k] = decodeValue(v)
	}
	return res
}

func decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if micros, ok := val[timeTag].(float64); ok && len(val) == 1 {
			return time.UnixMicro(int64(micros)).UTC()
		}
		res := make(map[string]any, len(val))
		for k, item := range val {
			res[k] = decodeValue(item)
		}
		return res
	case []any:
		return lo.Map(val, func(item any, _ int) any { return decodeValue(item) })
	default:
		return val
	}
}

// hasServerTimestamp reports whether fields hold a ServerTimestamp anywhere.
func hasServerTimestamp(fields contract.Fields) bool {
	var walk func(v any) bool
	walk = func(v any) bool {
		if v == any(contract.ServerTimestamp) {
			return true
		}
		switch val := v.(type) {
		case contract.Fields:
			return lo.SomeBy(lo.Values(map[string]any(val)), walk)
		case map[string]any:
			return lo.SomeBy(lo.Values(val), walk)
		case []any:
			return lo.SomeBy(val, walk)
		case []map[string]any:
			return lo.SomeBy(lo.ToAnySlice(val), walk)
		}
		return false
	}
	return walk(map[string]any(fields))
}

// canonical gives a comparable form of a stored value; encoding/json sorts map keys.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// arrayUnion appends each element not already present. It reports whether arr changed.
func arrayUnion(arr []any, elements []any) ([]any, bool) {
	seen := lo.SliceToMap(arr, func(item any) (string, struct{}) { return canonical(item), struct{}{} })
	changed := false
	for _, e := range elements {
		key := canonical(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		arr = append(arr, e)
		changed = true
	}
	return arr, changed
}

// arrayRemove drops every occurrence of each element. It reports whether arr changed.
func arrayRemove(arr []any, elements []any) ([]any, bool) {
	removed := lo.SliceToMap(elements, func(item any) (string, struct{}) { return canonical(item), struct{}{} })
	res := lo.Reject(arr, func(item any, _ int) bool {
		_, ok := removed[canonical(item)]
		return ok
	})
	return res, len(res) != len(arr)
}

// applyArrayOp runs op on the array field of data, creating the field when absent.
// A non-array field is replaced, as the document stores it does.
func applyArrayOp(data map[string]any, field string, elements []any,
	op func([]any, []any) ([]any, bool)) (bool, error) {
	encoded, err := encodeSlice(elements, time.Time{})
	if err != nil {
		return false, err
	}
	current, _ := data[field].([]any)
	updated, changed := op(current, encoded)
	if _, isArray := data[field].([]any); !isArray && data[field] != nil {
		changed = true
	}
	if updated == nil {
		updated = []any{}
	}
	if changed {
		data[field] = updated
	}
	return changed, nil
}

func mergeFields(current, update map[string]any) map[string]any {
	res := make(map[string]any, len(current)+len(update))
	for k, v := range current {
		res[k] = v
	}
	for k, v := range update {
		res[k] = v
	}
	return res
}

func splitPath(path string) ([]string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if lo.Contains(segments, "") {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidPath, path)
	}
	return segments, nil
}

// checkDocumentPath returns the document id of a path such as "rooms/042913".
func checkDocumentPath(path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(segments)%2 != 0 {
		return "", fmt.Errorf("%w: %q is not a document path", errors.ErrInvalidPath, path)
	}
	return segments[len(segments)-1], nil
}

func checkCollectionPath(path string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", errors.ErrInvalidPath, path)
	}
	return nil
}

// parentCollection returns "rooms/042913/messages" for "rooms/042913/messages/abc".
func parentCollection(documentPath string) string {
	trimmed := strings.Trim(documentPath, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return ""
	}
	return trimmed[:i]
}

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}
