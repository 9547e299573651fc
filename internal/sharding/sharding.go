package sharding

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// ShardCount is the fixed number of partitions for the system.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given key.
func GetShardID(key string) int {
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int(checksum % ShardCount)
}

// EventSubject returns the NATS subject an entity event is published on.
// Format: app.event.{shard_id}.{workspace}.{event}
func EventSubject(workspace, entityID, event string) string {
	return fmt.Sprintf("app.event.%d.%s.%s", GetShardID(entityID), Token(workspace), Token(event))
}

// EventWildcard matches one event of a workspace across every shard.
func EventWildcard(workspace, event string) string {
	return fmt.Sprintf("app.event.*.%s.%s", Token(workspace), Token(event))
}

// PresenceSubject returns the subject for outbound presence events, sharded by client.
// Format: app.presence.{shard_id}.{workspace}.{event}
func PresenceSubject(workspace, clientID, event string) string {
	return fmt.Sprintf("app.presence.%d.%s.%s", GetShardID(clientID), Token(workspace), Token(event))
}

// Token makes s safe to use as a single subject token.
func Token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
