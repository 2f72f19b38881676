package source

import "testing"

func TestParseInfo(t *testing.T) {
	raw := "# Server\r\n" +
		"redis_version:7.2.4\r\n" +
		"\r\n" +
		"# Clients\r\n" +
		"connected_clients:42\r\n" +
		"blocked_clients:0\r\n" +
		"# Errorstats\r\n" +
		"errorstat_NOPERM:count=3\r\n" +
		"malformed line without separator\r\n" +
		":orphan_value\r\n"

	snap := ParseInfo(raw)

	if got := snap["connected_clients"]; got != "42" {
		t.Fatalf("connected_clients %q, want 42", got)
	}
	if got := snap["errorstat_NOPERM"]; got != "count=3" {
		t.Fatalf("errorstat_NOPERM %q, want count=3", got)
	}
	if _, ok := snap["# Clients"]; ok {
		t.Fatalf("section header leaked into snapshot")
	}
	if _, ok := snap["malformed line without separator"]; ok {
		t.Fatalf("malformed line leaked into snapshot")
	}
	if _, ok := snap[""]; ok {
		t.Fatalf("empty key leaked into snapshot")
	}
}
