package cursor

import (
	"errors"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	id := "550e8400-e29b-41d4-a716-446655440000"

	c := Encode(ts, id)
	if c == "" {
		t.Fatal("expected non-empty cursor")
	}

	gotTime, gotID, err := Decode(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("nanosecond precision lost: got %v, want %v", gotTime, ts)
	}
	if gotID != id {
		t.Errorf("id mismatch: got %q, want %q", gotID, id)
	}
}

func TestEncodeNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 6, 15, 14, 30, 0, 0, loc)

	got, _, err := Decode(Encode(ts, "x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(ts) || got.Location() != time.UTC {
		t.Errorf("expected same instant in UTC, got %v", got)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"invalid base64", "not-valid-base64!!!"},
		{"missing separator", "bm9waXBl"},       // "nopipe"
		{"bad time", "YmFkLXRpbWV8c29tZS1pZA"}, // "bad-time|some-id"
		{"empty id", "MjAyNC0wMS0wMlQwMzowNDowNVp8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.cursor)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}
