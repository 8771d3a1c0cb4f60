package urlcompose

import "testing"

func TestJoin(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		path   string
		expect string
	}{
		{"empty base", "", "/v1/chat", "/v1/chat"},
		{"empty path", "https://up.example/v1", "", "https://up.example/v1"},
		{"plain concat", "https://up.example", "/v1/chat", "https://up.example/v1/chat"},
		{"exact duplicate dropped", "https://up.example/v1", "/v1/chat/completions", "https://up.example/v1/chat/completions"},
		{"version conflict keeps base", "https://up.example/v3", "/v1/chat/completions", "https://up.example/v3/chat/completions"},
		{"version match no conflict", "https://up.example/v1", "/v1/chat/completions", "https://up.example/v1/chat/completions"},
		{"preserves query and fragment from base", "https://up.example/v1?tenant=a#frag", "/chat", "https://up.example/v1/chat?tenant=a#frag"},
		{"trailing slash boundary", "https://up.example/v1/", "/chat", "https://up.example/v1/chat"},
		{"no dedup when segments differ and are not versions", "https://up.example/api", "/gateway/chat", "https://up.example/api/gateway/chat"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Join(tc.base, tc.path)
			if got != tc.expect {
				t.Errorf("Join(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.expect)
			}
		})
	}
}

func TestJoinIdempotence(t *testing.T) {
	base := "https://up.example/v1"
	path := "/chat/completions"
	once := Join(base, path)
	twice := Join(Join(base, "/"), path)
	if once != twice {
		t.Errorf("join(join(a,\"/\"),p) = %q, want join(a,p) = %q", twice, once)
	}
}
