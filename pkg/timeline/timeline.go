// Package timeline holds the entry model and the pure state transitions applied to it.
// None of the functions here mutate their input slice.
package timeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Entry struct {
	Emoji string `json:"emoji"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// Document is the remote mirror of one owner's timeline.
type Document struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Valid reports whether the document carries an entry payload. A push delivery
// without one is ignored.
func (d *Document) Valid() bool {
	return d != nil && d.Entries != nil
}

type Field string

const (
	FieldEmoji Field = "emoji"
	FieldTitle Field = "title"
	FieldDate  Field = "date"
)

func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldEmoji, FieldTitle, FieldDate:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownField    = errors.New("unknown field")
	ErrIncompleteEntry = errors.New("fill all fields")
)

func Defaults() []Entry {
	return []Entry{
		{Emoji: "❤️", Title: "Start", Date: "19.06.2024"},
		{Emoji: "🕓", Title: "Talked for 5 hours", Date: "02.10.2024"},
		{Emoji: "😌", Title: "1st meet — cycled together", Date: "21.10.2024"},
		{Emoji: "🫴", Title: "Held hands", Date: "09.06.2025"},
		{Emoji: "💋", Title: "1st kiss", Date: "25.08.2025"},
	}
}

func Clone(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func checkIndex(entries []Entry, i int) error {
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(entries))
	}
	return nil
}

// Edit sets one field of the entry at index to the trimmed value.
func Edit(entries []Entry, index int, field Field, value string) ([]Entry, error) {
	if err := checkIndex(entries, index); err != nil {
		return nil, err
	}
	out := Clone(entries)
	value = strings.TrimSpace(value)
	switch field {
	case FieldEmoji:
		out[index].Emoji = value
	case FieldTitle:
		out[index].Title = value
	case FieldDate:
		out[index].Date = value
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return out, nil
}

// Reorder removes the entry at from and reinserts it at to. The target index is
// interpreted after the removal, so [A,B,C,D] moving 0 to 2 gives [B,C,A,D].
func Reorder(entries []Entry, from, to int) ([]Entry, error) {
	if err := checkIndex(entries, from); err != nil {
		return nil, err
	}
	if err := checkIndex(entries, to); err != nil {
		return nil, err
	}
	moved := entries[from]
	out := make([]Entry, 0, len(entries))
	out = append(out, entries[:from]...)
	out = append(out, entries[from+1:]...)
	out = append(out[:to], append([]Entry{moved}, out[to:]...)...)
	return out, nil
}

// Normalize trims every field of the entry.
func Normalize(e Entry) Entry {
	return Entry{
		Emoji: strings.TrimSpace(e.Emoji),
		Title: strings.TrimSpace(e.Title),
		Date:  strings.TrimSpace(e.Date),
	}
}

func Validate(e Entry) error {
	e = Normalize(e)
	if e.Emoji == "" || e.Title == "" || e.Date == "" {
		return ErrIncompleteEntry
	}
	return nil
}

// Add appends the normalized entry. Entries with an empty field are rejected.
func Add(entries []Entry, e Entry) ([]Entry, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries...)
	return append(out, Normalize(e)), nil
}

func Reset() []Entry {
	return Defaults()
}

// Reconcile decides what local state becomes when a remote document arrives.
// The policy is last applied wins: a valid incoming document replaces local state
// wholesale and nothing is merged.
func Reconcile(local []Entry, incoming *Document) ([]Entry, bool) {
	if !incoming.Valid() {
		return local, false
	}
	return Clone(incoming.Entries), true
}
