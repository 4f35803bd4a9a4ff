package runtime

import (
	"fmt"
	"log/slog"

	"dm-chat/protocol"
)

// Broadcaster pushes the full online-user snapshot to every live
// connection. Full snapshot rather than incremental diff: simpler and
// race-free, at the cost of O(total connections) work per presence
// change, which is infrequent next to message volume.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
}

func NewBroadcaster(log *slog.Logger, registry *Registry) *Broadcaster {
	return &Broadcaster{log: log, registry: registry}
}

// Broadcast publishes the current online set to all connections of all
// users. A rejected push means the connection is gone or has stopped
// reading; closing it hands the rest of the teardown to the
// connection's own close path, which deregisters and re-fires presence.
func (b *Broadcaster) Broadcast() {
	online, sinks := b.registry.Snapshot()
	frame := protocol.Encode(protocol.NewOnlineUsers(online))
	for _, sink := range sinks {
		if err := sink.Push(frame); err != nil {
			b.log.Debug(fmt.Sprintf("closing unreachable connection %s: %v", sink.ID(), err))
			_ = sink.Close()
		}
	}
}
