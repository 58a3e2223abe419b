package media

import "testing"

func TestLocalPath(t *testing.T) {
	cases := map[string]string{
		"/srv/media/talk.mp4":              "/srv/media/talk.mp4",
		"file:///srv/media/talk%20two.mp4": "/srv/media/talk two.mp4",
		"https://example.test/watch?v=1":   "",
		"relative/file.mp4":                "",
		"":                                 "",
	}
	for ref, want := range cases {
		if got := LocalPath(ref); got != want {
			t.Fatalf("LocalPath(%q) = %q, want %q", ref, got, want)
		}
	}
	if !IsLocal("/tmp/a.wav") || IsLocal("https://x") {
		t.Fatal("IsLocal mismatch")
	}
}
