// Package record implements additive JSON records: structs that keep any
// keys they do not declare and write them back unchanged. Conversation
// messages, iteration state and checkpoint metadata are all records, so a
// file written by a newer version survives a read-modify-write by an older
// one.
//
// A record type declares an `Extra map[string]json.RawMessage` field tagged
// `json:"-"` and implements MarshalJSON/UnmarshalJSON through an alias type:
//
//	type messageAlias Message
//
//	func (m Message) MarshalJSON() ([]byte, error) {
//		return record.Marshal(messageAlias(m), m.Extra)
//	}
//
//	func (m *Message) UnmarshalJSON(data []byte) error {
//		var a messageAlias
//		extra, err := record.Unmarshal(data, &a)
//		if err != nil {
//			return err
//		}
//		*m = Message(a)
//		m.Extra = extra
//		return nil
//	}
package record

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Extra holds the undeclared keys of a record.
type Extra = map[string]json.RawMessage

var knownCache sync.Map // reflect.Type -> map[string]bool

// KnownKeys returns the JSON keys declared by struct type t's fields.
func KnownKeys(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := knownCache.Load(t); ok {
		return cached.(map[string]bool)
	}
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		keys[name] = true
	}
	knownCache.Store(t, keys)
	return keys
}

// Marshal encodes v (an alias of the record type, so that its own
// MarshalJSON is not called again) and adds the extra keys that v does not
// declare.
func Marshal(v any, extra Extra) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	known := KnownKeys(reflect.TypeOf(v))
	for k, raw := range extra {
		if known[k] {
			continue
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

// Unmarshal decodes data into v (a pointer to an alias of the record type)
// and returns every key v does not declare. The result is nil when there are
// none.
func Unmarshal(data []byte, v any) (Extra, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	known := KnownKeys(reflect.TypeOf(v))
	var extra Extra
	for k, raw := range fields {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = raw
	}
	return extra, nil
}

// Clone returns a copy of extra that shares no map with the original.
func Clone(extra Extra) Extra {
	if extra == nil {
		return nil
	}
	out := make(Extra, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
