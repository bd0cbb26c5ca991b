package pagination_test

import (
	"errors"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
)

func defaultConfig() pagination.Config {
	return pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}
}

func TestConfigFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     pagination.Config
		env     map[string]string
		want    pagination.Config
		wantErr bool
	}{
		{name: "defaults", want: defaultConfig()},
		{
			name: "env override",
			env:  map[string]string{"TEST_PAGE_SIZE": "25"},
			want: pagination.Config{DefaultPageSize: 25, MaxPageSize: 100},
		},
		{name: "default exceeds max", cfg: pagination.Config{DefaultPageSize: 200, MaxPageSize: 100}, wantErr: true},
		{name: "malformed env", env: map[string]string{"TEST_MAX_PAGE_SIZE": "lots"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := tt.cfg
			err := cfg.Finalize(&pagination.ConfigEnv{
				DefaultPageSize: "TEST_PAGE_SIZE",
				MaxPageSize:     "TEST_MAX_PAGE_SIZE",
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if diff := cmp.Diff(tt.want, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		req          pagination.Request
		wantPage     int
		wantPageSize int
	}{
		{"zero values get defaults", pagination.Request{}, 1, 20},
		{"negative page corrected", pagination.Request{Page: -1, PageSize: 10}, 1, 10},
		{"page size clamped to max", pagination.Request{Page: 1, PageSize: 500}, 1, 100},
		{"valid values preserved", pagination.Request{Page: 3, PageSize: 50}, 3, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize(defaultConfig())
			if tt.req.Page != tt.wantPage || tt.req.PageSize != tt.wantPageSize {
				t.Errorf("got page=%d size=%d, want page=%d size=%d",
					tt.req.Page, tt.req.PageSize, tt.wantPage, tt.wantPageSize)
			}
		})
	}
}

func TestFromQuery(t *testing.T) {
	search := "unit"
	tests := []struct {
		name    string
		values  url.Values
		want    pagination.Request
		wantErr error
	}{
		{
			name: "all parameters",
			values: url.Values{
				"page":      {"2"},
				"page_size": {"5"},
				"search":    {"unit"},
				"sort":      {"-CreatedAt"},
			},
			want: pagination.Request{
				Page:     2,
				PageSize: 5,
				Search:   &search,
				Sort:     []query.SortField{{Field: "CreatedAt", Descending: true}},
			},
		},
		{
			name:   "empty",
			values: url.Values{},
			want:   pagination.Request{Page: 1, PageSize: 20},
		},
		{name: "bad page", values: url.Values{"page": {"two"}}, wantErr: pagination.ErrInvalidRequest},
		{name: "bad size", values: url.Values{"page_size": {"1.5"}}, wantErr: pagination.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pagination.FromQuery(tt.values, defaultConfig())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromQuery: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		page      int
		pageSize  int
		wantPages int
		wantMore  bool
	}{
		{"exact multiple", 40, 1, 20, 2, true},
		{"last page", 41, 3, 20, 3, false},
		{"empty", 0, 1, 20, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pagination.NewPage[int](nil, tt.total, tt.page, tt.pageSize)
			if r.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", r.TotalPages, tt.wantPages)
			}
			if r.HasMore != tt.wantMore {
				t.Errorf("HasMore = %v, want %v", r.HasMore, tt.wantMore)
			}
			if r.Data == nil {
				t.Error("Data should never be nil")
			}
		})
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	r := pagination.Slice(items, pagination.Request{Page: 2, PageSize: 2})
	if diff := cmp.Diff([]int{3, 4}, r.Data); diff != "" {
		t.Errorf("page 2 (-want +got):\n%s", diff)
	}
	if r.Total != 5 || r.TotalPages != 3 || !r.HasMore {
		t.Errorf("total=%d pages=%d more=%v", r.Total, r.TotalPages, r.HasMore)
	}

	past := pagination.Slice(items, pagination.Request{Page: 9, PageSize: 2})
	if len(past.Data) != 0 {
		t.Errorf("past end returned %v", past.Data)
	}
}
