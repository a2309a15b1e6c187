package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const grid = ",100,200\n50,10.00,12.00\n"

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name     string
		max      int64
		body     string
		declared int64
		want     int
	}{
		{name: "grid within cap", max: int64(len(grid)), body: grid, want: http.StatusOK},
		{name: "grid over cap", max: 8, body: grid, want: http.StatusRequestEntityTooLarge},
		{name: "declared length over cap", max: 8, body: "short", declared: 1 << 20, want: http.StatusRequestEntityTooLarge},
		{name: "unlimited", max: 0, body: grid, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := BodyLimit{Max: tc.max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				got = string(data)
			}))

			req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/matrices/7/0/0", strings.NewReader(tc.body))
			if tc.declared > 0 {
				req.ContentLength = tc.declared
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusOK && got != tc.body {
				t.Fatalf("body not passed through: %q", got)
			}
			if tc.want == http.StatusRequestEntityTooLarge && !strings.Contains(rr.Body.String(), "maxBytes") {
				t.Fatalf("expected limit in error body, got %q", rr.Body.String())
			}
		})
	}
}
