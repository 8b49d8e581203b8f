package protocol

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Terminator closes every complete protocol statement.
const Terminator = '>'

// Attr is one name/value pair in wire order.
type Attr struct {
	Name  string
	Value string
}

// Message is one parsed protocol line: a tag name plus its attributes in
// the order they appeared on the wire.
type Message struct {
	Tag   string
	Attrs []Attr
}

// Get returns the value of the first attribute named name.
func (m Message) Get(name string) (string, bool) {
	for _, a := range m.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Keys returns attribute names in wire order.
func (m Message) Keys() []string {
	out := make([]string, len(m.Attrs))
	for i, a := range m.Attrs {
		out[i] = a.Name
	}
	return out
}

// Values returns attribute values in the same order as Keys.
func (m Message) Values() []string {
	out := make([]string, len(m.Attrs))
	for i, a := range m.Attrs {
		out[i] = a.Value
	}
	return out
}

// String renders m as a self-closing tag: <TAG A="1" B="2" />.
func (m Message) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(m.Tag)
	for _, a := range m.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		_ = xml.EscapeText(&b, []byte(a.Value))
		b.WriteByte('"')
	}
	b.WriteString(" />")
	return b.String()
}

// Parse decodes one protocol line into a Message. The line must hold exactly
// one element with no child elements or text; attribute names must be unique.
// Every failure wraps ErrMalformed.
func Parse(line string) (Message, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, ErrEmptyMessage)
	}

	dec := xml.NewDecoder(strings.NewReader(trimmed))
	dec.Strict = true

	var (
		msg   Message
		seen  bool
		depth int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if seen {
				return Message{}, fmt.Errorf("%w: %w", ErrMalformed, ErrMultipleElements)
			}
			seen = true
			depth++
			msg.Tag = qualifiedName(t.Name)
			attrs, err := collectAttrs(t.Attr)
			if err != nil {
				return Message{}, err
			}
			msg.Attrs = attrs
		case xml.EndElement:
			depth--
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return Message{}, fmt.Errorf("%w: %w: text %q", ErrMalformed, ErrUnexpectedContent, string(t))
			}
		default:
			return Message{}, fmt.Errorf("%w: %w: %T", ErrMalformed, ErrUnexpectedContent, t)
		}
	}
	if !seen {
		return Message{}, fmt.Errorf("%w: no element", ErrMalformed)
	}
	if depth != 0 {
		return Message{}, fmt.Errorf("%w: unclosed element %q", ErrMalformed, msg.Tag)
	}
	return msg, nil
}

func collectAttrs(in []xml.Attr) ([]Attr, error) {
	out := make([]Attr, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		name := qualifiedName(a.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrMalformed, ErrDuplicateAttribute, name)
		}
		seen[name] = struct{}{}
		out = append(out, Attr{Name: name, Value: a.Value})
	}
	return out, nil
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
