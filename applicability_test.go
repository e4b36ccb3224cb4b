package headerreplay

import (
	"net/http/httptest"
	"testing"
)

func TestIsApplicable(t *testing.T) {
	defaults := DefaultOptions()
	ignoring, err := NewOptions(Config{IgnoreCookies: []string{"_ga.*", "consent"}})
	if err != nil {
		t.Fatal(err)
	}
	noCookies, err := NewOptions(Config{UserContextHeaders: []string{"authorization"}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		method  string
		headers map[string]string
		opts    Options
		want    bool
	}{
		{"anonymous", "GET", nil, defaults, false},
		{"authorization", "GET", map[string]string{"Authorization": "Basic foobar"}, defaults, true},
		{"head", "HEAD", map[string]string{"Authorization": "Basic foobar"}, defaults, true},
		{"post", "POST", map[string]string{"Authorization": "Basic foobar"}, defaults, false},
		{"any cookie", "GET", map[string]string{"Cookie": "_ga=1"}, defaults, true},
		{"only ignored cookies", "GET", map[string]string{"Cookie": "_ga=1; _ga_XYZ=2; consent=yes"}, ignoring, false},
		{"one relevant cookie", "GET", map[string]string{"Cookie": "_ga=1; sid=abc"}, ignoring, true},
		{"pattern matches whole name", "GET", map[string]string{"Cookie": "myconsent=yes"}, ignoring, true},
		{"cookie not a context header", "GET", map[string]string{"Cookie": "sid=abc"}, noCookies, false},
		{"empty cookie header", "GET", map[string]string{"Cookie": ""}, defaults, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := IsApplicable(r, tt.opts); got != tt.want {
				t.Fatalf("IsApplicable() = %v, want %v", got, tt.want)
			}
		})
	}
}
