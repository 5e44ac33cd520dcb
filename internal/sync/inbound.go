package sync

import (
	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/protocol"
)

// handleFrame processes one frame from the relay. Malformed frames and
// frames for other documents are logged and dropped.
func (o *Orchestrator) handleFrame(frame []byte) {
	env, err := protocol.Parse(frame)
	if err != nil {
		o.logger().Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	if env.Type == protocol.TypeGetState {
		if env.Clients != nil {
			o.logger().Debug().Int("clients", *env.Clients).Msg("relay state")
		}
		return
	}

	o.mu.Lock()
	if o.doc == nil || env.Payload.ID != o.docID {
		o.mu.Unlock()
		o.logger().Debug().Str("id", env.Payload.ID).Msg("ignoring frame for another document")
		return
	}
	key := o.key

	if env.Type == protocol.TypeGet && !env.Payload.HasBinary() {
		// The relay has no copy; push ours even if nothing changed.
		o.lastSent = nil
		o.mu.Unlock()
		o.flushSend()
		o.bus.publish(Event{Type: EventSynced})
		return
	}
	o.mu.Unlock()

	blob, err := env.Payload.Data()
	if err != nil {
		o.logger().Warn().Err(err).Msg("dropping undecodable blob")
		return
	}

	update := blob
	if key != nil {
		plain, err := crypto.DecryptData(key, blob)
		if err != nil {
			o.logger().Warn().Err(err).Msg("failed to decrypt update, trying unencrypted import")
			o.bus.publish(Event{Type: EventDecryptFailed, Err: err})
		} else {
			update = plain
		}
	}

	o.merge(update)
	if env.Type == protocol.TypeGet {
		o.bus.publish(Event{Type: EventSynced})
	}
}

// merge imports a remote update, then runs conflict detection, notification,
// the echo send and the deferred save.
func (o *Orchestrator) merge(update []byte) {
	o.mu.Lock()
	if o.doc == nil {
		o.mu.Unlock()
		return
	}

	local, hadLocal := o.weekplanLocked()
	if err := o.doc.Import(update); err != nil {
		o.mu.Unlock()
		o.logger().Error().Err(err).Msg("failed to import update")
		return
	}
	merged, hasMerged := o.weekplanLocked()

	first := !o.merged
	o.merged = true
	o.mu.Unlock()

	if first && hadLocal && hasMerged && local.WeekID != merged.WeekID {
		o.resolveConflict(local, merged)
	}

	o.bus.publish(Event{Type: EventStateChanged})
	o.flushSend()
	o.schedulePersist()
}

func (o *Orchestrator) resolveConflict(local, merged core.Weekplan) {
	o.logger().Info().Str("local", local.WeekID).Str("merged", merged.WeekID).Msg("weekplan conflict")
	o.bus.publish(Event{
		Type:     EventWeekplanConflict,
		Conflict: &WeekplanConflict{Local: local.Clone(), Merged: merged.Clone()},
	})

	if o.cfg.ResolveConflict == nil || o.cfg.ResolveConflict(local.Clone(), merged.Clone()) != KeepLocal {
		return
	}
	if err := o.SetWeekplan(local); err != nil {
		o.logger().Error().Err(err).Msg("failed to restore local weekplan")
	}
}
