// Package entity implements the generic synchronization layer: a declarative
// wire<->domain field mapping, a Repository over the backend's tables, an
// in-memory Store with optimistic list updates, and a Reconciler that applies
// realtime change events to a Store.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
)

// Entity is implemented by every synchronized domain type.
type Entity interface {
	EntityID() string
}

// Patch is a partial update keyed by domain field name. A key that is absent
// is not sent; a key holding nil is sent as null only for Nullable fields.
type Patch map[string]any

// Flag tunes how a field takes part in writes.
type Flag uint8

const (
	// Nullable allows an explicit nil in a Patch to null the column out.
	Nullable Flag = 1 << iota
	// ReadOnly fields are decoded but never written.
	ReadOnly
	// OmitZero fields are left out of inserts when zero so server defaults apply.
	OmitZero
)

// Field maps one wire column (or embedded join) onto one domain field.
type Field[T any] struct {
	Wire   string
	Domain string
	// Join is the embed target for nested fields, e.g. "users!tickets_assigned_to_id_fkey".
	Join  string
	flags Flag

	nested  func() string
	decode  func(t *T, raw json.RawMessage) error
	encode  func(t *T) any
	isZero  func(t *T) bool
	convert func(v any) (any, error)
}

// Has reports whether f carries flag.
func (f Field[T]) Has(flag Flag) bool { return f.flags&flag != 0 }

// Column maps a scalar column stored at ref.
func Column[T, V any](wire, domainName string, ref func(*T) *V, flags ...Flag) Field[T] {
	f := Field[T]{Wire: wire, Domain: domainName, flags: join(flags)}
	f.decode = func(t *T, raw json.RawMessage) error {
		return decodeValue(ref(t), raw)
	}
	f.encode = func(t *T) any { return *ref(t) }
	f.isZero = func(t *T) bool { return reflect.ValueOf(ref(t)).Elem().IsZero() }
	f.convert = func(v any) (any, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out V
		if err := decodeValue(&out, raw); err != nil {
			return nil, err
		}
		return out, nil
	}
	return f
}

// Nested maps an embedded single-row join decoded with m. Nested fields are read-only.
func Nested[T, V any](alias, domainName, joinTarget string, ref func(*T) **V, m *Mapping[V]) Field[T] {
	f := Field[T]{Wire: alias, Domain: domainName, Join: joinTarget, flags: ReadOnly}
	f.nested = m.Select
	f.decode = func(t *T, raw json.RawMessage) error {
		if isNull(raw) {
			*ref(t) = nil
			return nil
		}
		v, err := m.decodeWith(raw, nil)
		if err != nil {
			return err
		}
		*ref(t) = &v
		return nil
	}
	return f
}

// NestedList maps an embedded one-to-many join decoded with m. It is read-only.
func NestedList[T, V any](alias, domainName, joinTarget string, ref func(*T) *[]V, m *Mapping[V]) Field[T] {
	f := Field[T]{Wire: alias, Domain: domainName, Join: joinTarget, flags: ReadOnly}
	f.nested = m.Select
	f.decode = func(t *T, raw json.RawMessage) error {
		if isNull(raw) {
			*ref(t) = nil
			return nil
		}
		list, err := m.decodeListWith(raw, nil)
		if err != nil {
			return err
		}
		*ref(t) = list
		return nil
	}
	return f
}

// Mapping is the declarative field table for one entity type.
type Mapping[T any] struct {
	fields   []Field[T]
	byDomain map[string]int
}

// NewMapping builds a mapping from fields. Duplicate domain names panic.
func NewMapping[T any](fields ...Field[T]) *Mapping[T] {
	m := &Mapping[T]{fields: fields, byDomain: make(map[string]int, len(fields))}
	for i, f := range fields {
		if _, dup := m.byDomain[f.Domain]; dup {
			panic(fmt.Sprintf("entity: duplicate domain field %q", f.Domain))
		}
		m.byDomain[f.Domain] = i
	}
	return m
}

// Fields returns the field table.
func (m *Mapping[T]) Fields() []Field[T] { return m.fields }

// WireName returns the column behind a domain field.
func (m *Mapping[T]) WireName(domainName string) (string, bool) {
	i, ok := m.byDomain[domainName]
	if !ok || m.fields[i].Join != "" {
		return "", false
	}
	return m.fields[i].Wire, true
}

// Select renders the PostgREST select list, embeds included.
func (m *Mapping[T]) Select() string { return m.selectWith(nil) }

func (m *Mapping[T]) selectWith(renames map[string]string) string {
	parts := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		if f.Join != "" {
			parts = append(parts, fmt.Sprintf("%s:%s(%s)", f.Wire, f.Join, f.nested()))
			continue
		}
		parts = append(parts, rename(f.Wire, renames))
	}
	return strings.Join(parts, ",")
}

// Decode turns one wire row into a domain value.
func (m *Mapping[T]) Decode(raw json.RawMessage) (T, error) { return m.decodeWith(raw, nil) }

// DecodeList turns a wire row array into domain values.
func (m *Mapping[T]) DecodeList(raw json.RawMessage) ([]T, error) { return m.decodeListWith(raw, nil) }

func (m *Mapping[T]) decodeWith(raw json.RawMessage, renames map[string]string) (T, error) {
	var out T
	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	for _, f := range m.fields {
		v, ok := row[rename(f.Wire, renames)]
		if !ok {
			continue
		}
		if err := f.decode(&out, v); err != nil {
			return out, fmt.Errorf("decode %s: %w", f.Wire, err)
		}
	}
	return out, nil
}

func (m *Mapping[T]) decodeListWith(raw json.RawMessage, renames map[string]string) ([]T, error) {
	if len(raw) == 0 || isNull(raw) {
		return []T{}, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := m.decodeWith(r, renames)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode renders the writable fields of v as a wire row.
func (m *Mapping[T]) Encode(v *T) map[string]any {
	row := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		if f.Has(ReadOnly) || f.Join != "" {
			continue
		}
		if f.Has(OmitZero) && f.isZero(v) {
			continue
		}
		row[f.Wire] = f.encode(v)
	}
	return row
}

// EncodePatch translates a domain Patch into wire columns, one field at a time.
func (m *Mapping[T]) EncodePatch(p Patch) (map[string]any, error) {
	row := make(map[string]any, len(p))
	for name, v := range p {
		i, ok := m.byDomain[name]
		if !ok {
			return nil, &domain.ErrValidation{Field: name, Message: "unknown field"}
		}
		f := m.fields[i]
		if f.Has(ReadOnly) || f.Join != "" {
			return nil, &domain.ErrValidation{Field: name, Message: "field is read-only"}
		}
		if v == nil {
			if f.Has(Nullable) {
				row[f.Wire] = nil
			}
			continue
		}
		cv, err := f.convert(v)
		if err != nil {
			return nil, &domain.ErrValidation{Field: name, Message: err.Error()}
		}
		row[f.Wire] = cv
	}
	return row, nil
}

func join(flags []Flag) Flag {
	var out Flag
	for _, f := range flags {
		out |= f
	}
	return out
}

func rename(wire string, renames map[string]string) string {
	if to, ok := renames[wire]; ok {
		return to
	}
	return wire
}

func renameKeys(row map[string]any, renames map[string]string) map[string]any {
	if len(renames) == 0 {
		return row
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[rename(k, renames)] = v
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeValue unmarshals raw into dst, accepting numeric ids for text fields
// and plain dates for timestamp fields.
func decodeValue(dst any, raw json.RawMessage) error {
	switch p := dst.(type) {
	case *string:
		if isNull(raw) {
			*p = ""
			return nil
		}
		return decodeText(p, raw)
	case **string:
		if isNull(raw) {
			*p = nil
			return nil
		}
		var s string
		if err := decodeText(&s, raw); err != nil {
			return err
		}
		*p = &s
		return nil
	case *time.Time:
		if isNull(raw) {
			*p = time.Time{}
			return nil
		}
		return decodeTime(p, raw)
	case **time.Time:
		if isNull(raw) {
			*p = nil
			return nil
		}
		var t time.Time
		if err := decodeTime(&t, raw); err != nil {
			return err
		}
		*p = &t
		return nil
	}
	if isNull(raw) {
		v := reflect.ValueOf(dst).Elem()
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func decodeText(dst *string, raw json.RawMessage) error {
	if err := json.Unmarshal(raw, dst); err == nil {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*dst = n.String()
	return nil
}

func decodeTime(dst *time.Time, raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			*dst = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}
