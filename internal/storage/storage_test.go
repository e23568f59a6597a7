package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

func TestKey(t *testing.T) {
	leadID := uuid.MustParse("6f1c1a52-8a4e-4a43-9d3c-0b7c1c1f0a01")
	prefix := "leads/" + leadID.String() + "/"

	tests := []struct {
		name     string
		obj      Object
		expected string
	}{
		{"jpeg", Object{LeadID: leadID, MediaID: "IMG1", MimeType: "image/jpeg"}, prefix + "IMG1.jpg"},
		{"pdf with params", Object{LeadID: leadID, MediaID: "DOC1", MimeType: "application/pdf; charset=binary"}, prefix + "DOC1.pdf"},
		{"filename ext wins", Object{LeadID: leadID, MediaID: "DOC2", MimeType: "application/octet-stream", Filename: "House Plan.DWG"}, prefix + "DOC2.dwg"},
		{"unsafe id", Object{LeadID: leadID, MediaID: "../../etc/passwd", MimeType: "image/png"}, prefix + "etc_passwd.png"},
		{"unknown mime", Object{LeadID: leadID, MediaID: "X"}, prefix + "X.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.obj); got != tt.expected {
				t.Errorf("Key() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKey_EmptyMediaIDGetsRandomName(t *testing.T) {
	obj := Object{LeadID: uuid.New(), MimeType: "image/png"}
	a, b := Key(obj), Key(obj)
	if a == b {
		t.Error("expected distinct generated names")
	}
}

func TestLocalStore_SaveAndServe(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewLocalStoreFs(fs, "https://bot.example.com/media/")
	obj := Object{LeadID: uuid.New(), MediaID: "IMG1", MimeType: "image/jpeg", Data: []byte("jpeg-bytes")}

	ref, err := store.Save(context.Background(), obj)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := afero.ReadFile(fs, "/"+ref)
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("stored data = %q, %v", data, err)
	}
	if url := store.URL(ref); url != "https://bot.example.com/media/"+ref {
		t.Errorf("URL() = %q", url)
	}

	srv := httptest.NewServer(http.StripPrefix("/media", store.Handler()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/media/" + ref)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg-bytes" {
		t.Errorf("served %d %q", resp.StatusCode, body)
	}
}

func TestLocalStore_SaveFailsOnReadOnlyFs(t *testing.T) {
	store := NewLocalStoreFs(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/media")
	_, err := store.Save(context.Background(), Object{LeadID: uuid.New(), MediaID: "A", Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "media storage failed") {
		t.Errorf("error = %v, want storage error", err)
	}
}

func TestLocalStore_SaveRespectsContext(t *testing.T) {
	store := NewLocalStoreFs(afero.NewMemMapFs(), "/media")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Save(ctx, Object{LeadID: uuid.New(), MediaID: "A"}); err == nil {
		t.Error("expected context error")
	}
}
