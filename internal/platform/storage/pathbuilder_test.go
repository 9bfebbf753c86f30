package storage

import (
	"strings"
	"testing"
)

func TestStoreImagePath(t *testing.T) {
	path, err := StoreImagePath("st_123", "up_789", "front.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "media/stores/st_123/images/up_789/front.png"; path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
}

func TestStoreImagePathRejectsUnsafeSegments(t *testing.T) {
	cases := []struct {
		name     string
		storeID  string
		uploadID string
		fileName string
	}{
		{"traversal in store id", "../bad", "up_1", "logo.png"},
		{"slash in file name", "st_1", "up_1", "a/b.png"},
		{"backslash in upload id", "st_1", "up\\1", "logo.png"},
		{"blank file name", "st_1", "up_1", "  "},
		{"dotdot file name", "st_1", "up_1", "..png.."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := StoreImagePath(tc.storeID, tc.uploadID, tc.fileName); err == nil {
				t.Fatal("expected error")
			} else if !strings.HasPrefix(err.Error(), "storage:") {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
