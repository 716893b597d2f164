package manifest

import "testing"

func TestResolveKey(t *testing.T) {
	const origin = "http://app.local:5000"
	testCases := []struct {
		name string
		url  string
		key  string
		ok   bool
	}{
		{"origin", origin, RootKey, true},
		{"origin slash", origin + "/", RootKey, true},
		{"fragment route", origin + "/#/settings", RootKey, true},
		{"plain file", origin + "/main.js", "main.js", true},
		{"nested file", origin + "/assets/fonts/a.ttf", "assets/fonts/a.ttf", true},
		{"cache bust", origin + "/main.js?v=12345", "main.js", true},
		{"other query kept", origin + "/main.js?x=1", "main.js?x=1", true},
		{"cross origin", "http://cdn.local/main.js", "", false},
		{"prefix lookalike", origin + "0/main.js", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, ok := ResolveKey(origin, tc.url)
			if ok != tc.ok || key != tc.key {
				t.Fatalf("ResolveKey(%q) = (%q, %v), want (%q, %v)", tc.url, key, ok, tc.key, tc.ok)
			}
		})
	}
}

func TestResolveKeyToleratesTrailingSlashOrigin(t *testing.T) {
	key, ok := ResolveKey("http://app.local/", "http://app.local/index.html")
	if !ok || key != "index.html" {
		t.Fatalf("unexpected key %q ok=%v", key, ok)
	}
}

func TestKeyPath(t *testing.T) {
	if got := KeyPath(RootKey); got != "/" {
		t.Fatalf("root path mismatch: %s", got)
	}
	if got := KeyPath("assets/a.png"); got != "/assets/a.png" {
		t.Fatalf("asset path mismatch: %s", got)
	}
}
