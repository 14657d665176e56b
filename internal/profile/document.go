// Package profile persists the small JSON documents (personality, user profile)
// that are embedded in the system prompt and edited through tools.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ErrUnknownField is returned by Update for keys the document does not define.
var ErrUnknownField = errors.New("unknown field")

// Values is an immutable snapshot of a document. It marshals with keys in field order
// and unset fields as null.
type Values struct {
	fields []Field
	m      map[string]any
}

// Get returns the value of key and whether it is set.
func (v Values) Get(key string) (any, bool) {
	val, ok := v.m[key]
	return val, ok && val != nil
}

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range v.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(f.Key)
		buf.Write(k)
		buf.WriteByte(':')
		val, err := json.Marshal(v.m[f.Key])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Pretty returns the snapshot as indented JSON.
func (v Values) Pretty() string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// Document is a JSON file holding a fixed set of fields.
type Document struct {
	path   string
	fields []Field
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	values  map[string]any
}

// Open loads the document at path. A missing or unreadable file is replaced by one
// with every field set to null.
func Open(path string, fields []Field, log zerolog.Logger) (*Document, error) {
	d := &Document{
		path:   path,
		fields: fields,
		log:    log.With().Str("document", filepath.Base(path)).Logger(),
		values: make(map[string]any, len(fields)),
	}
	if err := d.Reload(); err != nil {
		d.log.Warn().Err(err).Msg("resetting document")
		d.values = make(map[string]any, len(fields))
	}
	if err := d.write(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the file backing the document.
func (d *Document) Path() string {
	return d.path
}

// Fields returns the field set of the document.
func (d *Document) Fields() []Field {
	return d.fields
}

// Snapshot returns the current values.
func (d *Document) Snapshot() Values {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m := make(map[string]any, len(d.values))
	for k, v := range d.values {
		m[k] = v
	}
	return Values{fields: d.fields, m: m}
}

// Update merges updates into the document and persists it. A nil value unsets a field.
func (d *Document) Update(updates map[string]any) (Values, error) {
	next := make(map[string]any, len(updates))
	for k, v := range updates {
		f, ok := d.field(k)
		if !ok {
			return Values{}, fmt.Errorf("%w %q", ErrUnknownField, k)
		}
		norm, err := normalize(f, v)
		if err != nil {
			return Values{}, err
		}
		next[k] = norm
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	for k, v := range next {
		d.values[k] = v
	}
	d.mu.Unlock()

	if err := d.write(); err != nil {
		return Values{}, err
	}
	return d.Snapshot(), nil
}

// Reload re-reads the file. Unknown keys and values of the wrong type are ignored.
func (d *Document) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", d.path, err)
	}
	values := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		if v, err := normalize(f, raw[f.Key]); err == nil {
			values[f.Key] = v
		}
	}
	d.mu.Lock()
	d.values = values
	d.mu.Unlock()
	return nil
}

// Watch reloads the document whenever the file is changed by another process,
// until ctx is done.
func (d *Document) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		return err
	}
	name := filepath.Clean(d.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := d.Reload(); err != nil {
				d.log.Warn().Err(err).Msg("reload after external edit")
				continue
			}
			d.log.Debug().Msg("reloaded after external edit")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (d *Document) field(key string) (Field, bool) {
	for _, f := range d.fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// write saves the document atomically via a temp file in the same directory.
func (d *Document) write() error {
	data, err := json.Marshal(d.Snapshot())
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path)
}

func normalize(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", f.Key)
		}
		return s, nil
	case "number":
		var n float64
		switch x := v.(type) {
		case float64:
			n = x
		case int:
			n = float64(x)
		case json.Number:
			parsed, err := x.Float64()
			if err != nil {
				return nil, fmt.Errorf("%s must be a number", f.Key)
			}
			n = parsed
		default:
			return nil, fmt.Errorf("%s must be a number", f.Key)
		}
		if f.Ranged() && (n < f.Min || n > f.Max) {
			return nil, fmt.Errorf("%s must be between %g and %g", f.Key, f.Min, f.Max)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%s has unsupported type %q", f.Key, f.Type)
}
