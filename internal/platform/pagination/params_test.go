package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.AfterID != "" {
		t.Fatalf("expected empty cursor, got %q", params.AfterID)
	}
}

func TestParsePageSize(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		opts    Options
		want    int
		wantErr bool
	}{
		{name: "explicit", value: "25", want: 25},
		{name: "capped at max", value: "500", want: DefaultMaxPageSize},
		{name: "custom max", value: "50", opts: Options{MaxPageSize: 10}, want: 10},
		{name: "zero rejected", value: "0", wantErr: true},
		{name: "negative rejected", value: "-3", wantErr: true},
		{name: "non numeric rejected", value: "ten", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{"pageSize": []string{tc.value}}
			params, err := Parse(values, tc.opts)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPageSize) {
					t.Fatalf("expected ErrInvalidPageSize, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token := EncodeToken("shp_01H")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	afterID, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if afterID != "shp_01H" {
		t.Fatalf("expected cursor shp_01H, got %q", afterID)
	}
}

func TestEncodeTokenEmpty(t *testing.T) {
	if token := EncodeToken("  "); token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	for _, token := range []string{"not-base64!", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestParsePropagatesTokenError(t *testing.T) {
	values := url.Values{"pageToken": []string{"%%%"}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
