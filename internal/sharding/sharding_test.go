package sharding

import (
	"fmt"
	"strings"
	"testing"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		key  string
		want int
	}{
		{"user-1", 532},
		{"user-2", 942},
		{"contact-abc", 237},
		{"task-42", 608},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := GetShardID(tt.key); got != tt.want {
				t.Errorf("GetShardID(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEventSubject(t *testing.T) {
	subject := EventSubject("acme", "user-1", "task-created")
	expected := "app.event.532.acme.task-created"
	if subject != expected {
		t.Errorf("EventSubject = %v, want %v", subject, expected)
	}
}

func TestEventWildcard(t *testing.T) {
	if got := EventWildcard("acme", "contact-deleted"); got != "app.event.*.acme.contact-deleted" {
		t.Errorf("EventWildcard = %v", got)
	}
}

func TestPresenceSubject(t *testing.T) {
	subject := PresenceSubject("acme", "user-2", "join-page")
	if subject != "app.presence.942.acme.join-page" {
		t.Errorf("PresenceSubject = %v", subject)
	}
}

func TestToken(t *testing.T) {
	tests := map[string]string{
		"acme":         "acme",
		"  ":           "_",
		"acme.eu":      "acme_eu",
		"a*b>c d":      "a_b_c_d",
		"north-region": "north-region",
	}
	for in, want := range tests {
		if got := Token(in); got != want {
			t.Errorf("Token(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventSubjectHasFixedTokenCount(t *testing.T) {
	subject := EventSubject("acme.eu", "c1", "task.created")
	if n := len(strings.Split(subject, ".")); n != 5 {
		t.Errorf("subject %q has %d tokens, want 5", subject, n)
	}
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	shard1 := GetShardID(id)
	shard2 := GetShardID(id)

	if shard1 != shard2 {
		t.Errorf("Sharding is not deterministic! %d != %d", shard1, shard2)
	}
}

func TestDistribution(t *testing.T) {
	// Rough check to ensure we don't map everything to shard 0
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		shard := GetShardID(key)
		distribution[shard]++
	}

	if len(distribution) < 100 {
		t.Errorf("Sharding distribution is too poor. Only %d unique shards used for 1000 keys", len(distribution))
	}
}
