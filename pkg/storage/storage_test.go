package storage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr string
	}{
		{"connection string", storage.Config{ConnectionString: "conn"}, ""},
		{"service url", storage.Config{ServiceURL: "https://acct.blob.core.windows.net/"}, ""},
		{"memory needs nothing", storage.Config{Provider: storage.ProviderMemory}, ""},
		{"azure without credentials", storage.Config{}, "connection_string or service_url required"},
		{"unknown provider", storage.Config{Provider: "s3"}, "unknown storage provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Finalize: %v", err)
				}
				if tt.cfg.ContainerName != "gradeos" {
					t.Errorf("container_name = %s, want gradeos", tt.cfg.ContainerName)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFinalizeEnvOverrides(t *testing.T) {
	t.Setenv("TEST_CONTAINER", "evalsets")
	t.Setenv("TEST_CONN", "override-connection")

	cfg := storage.Config{}
	err := cfg.Finalize(&storage.Env{ContainerName: "TEST_CONTAINER", ConnectionString: "TEST_CONN"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if cfg.ContainerName != "evalsets" || cfg.ConnectionString != "override-connection" {
		t.Errorf("got %+v", cfg)
	}
}

func TestNew(t *testing.T) {
	sys, err := storage.New(&storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "gradeos",
		ConnectionString: azuriteConnString,
	}, slog.Default())
	if err != nil || sys == nil {
		t.Fatalf("New() = %v, %v", sys, err)
	}

	_, err = storage.New(&storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "gradeos",
		ConnectionString: "not-a-connection-string",
	}, slog.Default())
	if err == nil {
		t.Fatal("expected error for invalid connection string")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	if err := m.Upload(ctx, "evalsets/a.json", strings.NewReader(`{"id":"a"}`), "application/json"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	ok, err := m.Exists(ctx, "evalsets/a.json")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := m.Download(ctx, "evalsets/a.json")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != `{"id":"a"}` {
		t.Errorf("body = %s", body)
	}

	if _, err := m.Download(ctx, "evalsets/missing.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing blob err = %v, want ErrNotFound", err)
	}
}

func TestKeyValidation(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{"submissions/s-1/page-0.png", nil},
		{"evalsets/physics.json", nil},
		{"", storage.ErrEmptyKey},
		{"../etc/passwd", storage.ErrInvalidKey},
		{"evalsets/../secrets", storage.ErrInvalidKey},
		{"/absolute/key", storage.ErrInvalidKey},
		{"a//b", storage.ErrInvalidKey},
		{"a/./b", storage.ErrInvalidKey},
		{`windows\path`, storage.ErrInvalidKey},
	}

	ctx := context.Background()
	m := storage.NewMemory()
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := m.Exists(ctx, tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("Exists(%q) err = %v, want %v", tt.key, err, tt.want)
			}
		})
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"empty key", storage.ErrEmptyKey, http.StatusBadRequest},
		{"invalid key", storage.ErrInvalidKey, http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("load: %w", storage.ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storage.MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("MapHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
