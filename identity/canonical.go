package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Namespace URLs for the two well-known payload members of the open
// coproduct payload.
const (
	personNamespace  = "https://ember.dev/payload#person"
	projectNamespace = "https://ember.dev/payload#project"
)

// escapeSjsonPath escapes '.' and '*' and '?' so a namespace URL (or any
// literal string) can be used as a single sjson path segment.
func escapeSjsonPath(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '*', '?', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// CanonicalJSON serializes a Document into canonical-JSON form: sorted
// keys, minimal whitespace, and numbers rendered without trailing zeros
// (the engine never emits float payloads for its own fields, so this
// reduces to emitting only integers and strings). The blob hash the
// object store computes is taken over exactly these bytes.
func CanonicalJSON(d *Document) ([]byte, error) {
	raw := []byte("{}")
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		raw, err = sjson.SetBytes(raw, path, value)
	}

	set("version", d.Version)
	if d.HasReplaces {
		set("replaces", d.Replaces.Hex())
	}

	switch d.Subject.Kind {
	case PersonKind:
		set("payload."+escapeSjsonPath(personNamespace)+".name", d.Subject.Name)
	case ProjectKind:
		set("payload."+escapeSjsonPath(projectNamespace)+".name", d.Subject.Name)
		if d.Subject.Description != "" {
			set("payload."+escapeSjsonPath(projectNamespace)+".description", d.Subject.Description)
		}
		if d.Subject.DefaultBranch != "" {
			set("payload."+escapeSjsonPath(projectNamespace)+".default_branch", d.Subject.DefaultBranch)
		}
	default:
		return nil, fmt.Errorf("identity: unknown subject kind %d", d.Subject.Kind)
	}
	if err != nil {
		return nil, err
	}

	extKeys := make([]string, 0, len(d.Ext))
	for k := range d.Ext {
		extKeys = append(extKeys, k)
	}
	sort.Strings(extKeys)
	for _, k := range extKeys {
		raw, err = sjson.SetRawBytes(raw, "payload."+escapeSjsonPath(k), d.Ext[k])
		if err != nil {
			return nil, err
		}
	}

	delegations := make([]interface{}, 0, len(d.Delegations))
	entries := append([]DelegationEntry{}, d.Delegations...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].String() < entries[j].String() })
	for _, del := range entries {
		if del.Key != nil {
			delegations = append(delegations, del.Key.String())
		} else {
			delegations = append(delegations, del.Person.String())
		}
	}
	raw, err = sjson.SetBytes(raw, "delegations", delegations)
	if err != nil {
		return nil, err
	}

	return canonicalizeBytes(raw)
}

// canonicalizeBytes re-encodes arbitrary JSON bytes into sorted-key,
// minimal-whitespace canonical form by round-tripping through an ordered
// map representation. encoding/json already sorts map[string]interface{}
// keys and emits the tightest encoding for strings/integers; no library in
// the dependency set performs RFC 8785-style canonicalization directly, so
// this final tightening pass is hand-rolled.
func canonicalizeBytes(raw []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(newJSONByteReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "identity: invalid json")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newJSONByteReader(b []byte) *jsonByteReader { return &jsonByteReader{b: b} }

// jsonByteReader is a tiny io.Reader over a byte slice.
type jsonByteReader struct {
	b   []byte
	pos int
}

func (r *jsonByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// ParseDocument parses canonical-JSON bytes into a Document, rejecting
// documents with duplicate object keys anywhere in the structure (the
// open-coproduct payload in particular) rather than silently keeping the
// last occurrence.
func ParseDocument(raw []byte) (*Document, error) {
	if err := rejectDuplicateKeys(raw); err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	d := &Document{}
	d.Version = int(root.Get("version").Int())

	if r := root.Get("replaces"); r.Exists() {
		oid, err := OidFromHex(r.String())
		if err != nil {
			return nil, errors.Wrap(err, "identity: invalid replaces")
		}
		d.Replaces = oid
		d.HasReplaces = true
	}

	payload := root.Get("payload")
	if !payload.Exists() {
		return nil, ErrMissingSubject
	}
	d.Ext = make(map[string]json.RawMessage)

	var subjectFound bool
	var parseErr error
	payload.ForEach(func(key, value gjson.Result) bool {
		ns := key.String()
		switch ns {
		case personNamespace:
			d.Subject.Kind = PersonKind
			d.Subject.Name = value.Get("name").String()
			subjectFound = true
		case projectNamespace:
			d.Subject.Kind = ProjectKind
			d.Subject.Name = value.Get("name").String()
			d.Subject.Description = value.Get("description").String()
			d.Subject.DefaultBranch = value.Get("default_branch").String()
			subjectFound = true
		default:
			if _, exists := d.Ext[ns]; exists {
				parseErr = ErrDuplicateExtNamespace
				return false
			}
			d.Ext[ns] = json.RawMessage(value.Raw)
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if !subjectFound {
		return nil, ErrMissingSubject
	}

	delegations := root.Get("delegations")
	if !delegations.IsArray() {
		return nil, ErrEmptyDelegations
	}
	for _, item := range delegations.Array() {
		s := item.String()
		if len(s) > 8 && s[:8] == "rad:git:" {
			urn, err := ParseUrn(s)
			if err != nil {
				return nil, errors.Wrap(err, "identity: invalid person delegation")
			}
			d.Delegations = append(d.Delegations, DelegationEntry{Person: &urn})
			continue
		}
		pid, err := PeerIdFromString(s)
		if err != nil {
			return nil, errors.Wrap(err, "identity: invalid delegation key")
		}
		d.Delegations = append(d.Delegations, DelegationEntry{Key: &pid})
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// rejectDuplicateKeys walks the raw JSON token stream and fails if any
// single object literal repeats a key. encoding/json's Decoder.Token is
// used directly because neither gjson nor sjson expose duplicate-key
// detection (both silently keep the last occurrence like encoding/json's
// own Unmarshal), and no other library in the dependency set covers this.
func rejectDuplicateKeys(raw []byte) error {
	dec := json.NewDecoder(newJSONByteReader(raw))
	return checkDupObject(dec)
}

func checkDupObject(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	return checkDupValue(dec, tok)
}

func checkDupValue(dec *json.Decoder, tok json.Token) error {
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key := keyTok.(string)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("identity: duplicate key %q in document", key)
			}
			seen[key] = struct{}{}

			valTok, err := dec.Token()
			if err != nil {
				return err
			}
			if err := checkDupValue(dec, valTok); err != nil {
				return err
			}
		}
		// consume closing '}'
		if _, err := dec.Token(); err != nil {
			return err
		}
	case '[':
		for dec.More() {
			valTok, err := dec.Token()
			if err != nil {
				return err
			}
			if err := checkDupValue(dec, valTok); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	return nil
}
