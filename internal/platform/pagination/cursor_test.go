package pagination

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeTokenRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 8, 12, 9, 30, 0, 0, time.UTC).Format(time.RFC3339Nano)
	token, err := EncodeToken(Cursor{StartAfter: []any{createdAt, "ord_01H"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token must be URL-safe without padding, got %q", token)
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursor.StartAfter) != 2 {
		t.Fatalf("expected 2 cursor values, got %d", len(cursor.StartAfter))
	}
	if cursor.StartAfter[0] != createdAt {
		t.Fatalf("expected timestamp %q, got %v", createdAt, cursor.StartAfter[0])
	}
	if cursor.StartAfter[1] != "ord_01H" {
		t.Fatalf("expected doc id ord_01H, got %v", cursor.StartAfter[1])
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token != "" {
		t.Fatalf("empty cursor should encode to empty token, got %q", token)
	}
}

func TestDecodeTokenEmptyIsFirstPage(t *testing.T) {
	cursor, err := DecodeToken("   ")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursor.StartAfter) != 0 {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not base64!!", "bm90LWpzb24"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}
