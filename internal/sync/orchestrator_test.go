package sync

import (
	"context"
	"testing"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/crdt"
	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/protocol"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayURL = "ws://relay.test/ws"
	waitFor  = 2 * time.Second
	tick     = 5 * time.Millisecond
)

func TestLifecycle(t *testing.T) {
	env := newTestEnv()
	o := New(env.config())
	defer o.Close()

	assert.Equal(t, StatusUninitialized, o.Status())
	assert.ErrorIs(t, o.Init(), ErrNoKey)
	_, err := o.Recipes()
	assert.ErrorIs(t, err, ErrNotInitialized)

	key := newSyncKey(t)
	require.NoError(t, o.InitWithKey(key))
	assert.Equal(t, StatusKeyBound, o.Status())
	assert.ErrorIs(t, o.Connect(context.Background(), relayURL), ErrNotInitialized)

	require.NoError(t, o.InitWithKey(key), "same key is idempotent")
	assert.ErrorIs(t, o.InitWithKey(newSyncKey(t)), ErrKeyMismatch)

	require.NoError(t, o.Init())
	assert.Equal(t, StatusDisconnected, o.Status())
	require.NoError(t, o.Init(), "Init is idempotent")

	require.NoError(t, o.Connect(context.Background(), relayURL))
	assert.Equal(t, StatusConnected, o.Status())

	require.NoError(t, o.Disconnect())
	assert.Equal(t, StatusUninitialized, o.Status())
	assert.Empty(t, o.DocumentID())
	_, err = o.Recipes()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitWithKeyRejectsMalformedKey(t *testing.T) {
	o := New(newTestEnv().config())
	defer o.Close()

	assert.ErrorIs(t, o.InitWithKey("not-a-key"), crypto.ErrInvalidSyncKey)
	assert.Equal(t, StatusUninitialized, o.Status())
}

func TestDocumentIDIndependentOfEncryption(t *testing.T) {
	key := newSyncKey(t)

	env := newTestEnv()
	encrypted := newReady(t, env.config(), key)

	cfg := env.config()
	cfg.DisableEncryption = true
	plain := newReady(t, cfg, key)

	want, err := crypto.DeriveDocID(key)
	require.NoError(t, err)
	assert.Equal(t, want, encrypted.DocumentID())
	assert.Equal(t, want, plain.DocumentID())
}

func TestStatusEvents(t *testing.T) {
	env := newTestEnv()
	o := New(env.config())
	defer o.Close()
	sub := o.SubscribeWithOptions(SubscriptionOptions{Events: []EventType{EventStatusChanged}})

	require.NoError(t, o.InitWithKey(newSyncKey(t)))
	require.NoError(t, o.Init())
	require.NoError(t, o.Connect(context.Background(), relayURL))

	var got []Status
	for _, ev := range drain(sub, EventStatusChanged) {
		got = append(got, ev.Status)
	}
	assert.Equal(t, []Status{StatusKeyBound, StatusDisconnected, StatusConnecting, StatusConnected}, got)
}

func TestConnectRequestsRelayState(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))

	require.NoError(t, o.Connect(context.Background(), relayURL))

	gets := env.transport.last().frames(protocol.TypeGet)
	require.Len(t, gets, 1)
	assert.Equal(t, o.DocumentID(), gets[0].Payload.ID)
	assert.False(t, gets[0].Payload.HasBinary())
	assert.Empty(t, env.transport.last().frames(protocol.TypeUpdate), "local state is not pushed on open")
}

func TestDebounceCoalescing(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	// 10 mutations within 100ms
	for i := 0; i < 10; i++ {
		_, err := o.AddRecipe(core.Recipe{Name: "Recipe"})
		require.NoError(t, err)
		env.clock.Add(10 * time.Millisecond)
	}

	env.clock.Add(150 * time.Millisecond)
	require.Eventually(t, func() bool { return len(conn.frames(protocol.TypeUpdate)) == 1 }, waitFor, tick)
	assert.Equal(t, 0, env.store.saveCount(), "save waits for the long debounce")

	env.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return env.store.saveCount() == 1 }, waitFor, tick)

	env.clock.Add(time.Minute)
	assert.Never(t, func() bool {
		return len(conn.frames(protocol.TypeUpdate)) > 1 || env.store.saveCount() > 1
	}, 50*time.Millisecond, tick)
}

func TestSendSkipsUnchangedDocument(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	_, err := o.AddRecipe(core.Recipe{Name: "Stew"})
	require.NoError(t, err)

	o.flushSend()
	o.flushSend()
	require.Len(t, conn.frames(protocol.TypeUpdate), 1)

	require.NoError(t, o.SetShoppingChecked("Milk", true))
	o.flushSend()
	assert.Len(t, conn.frames(protocol.TypeUpdate), 2)
}

func TestOfflineMutationsDoNotSend(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))

	_, err := o.AddRecipe(core.Recipe{Name: "Stew"})
	require.NoError(t, err)
	o.flushSend()

	assert.Equal(t, 0, env.transport.dialCount())
}

func TestSentUpdateIsEncrypted(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	o := newReady(t, env.config(), key)
	require.NoError(t, o.Connect(context.Background(), relayURL))

	_, err := o.AddRecipe(core.Recipe{Name: "Secret sauce"})
	require.NoError(t, err)
	o.flushSend()

	updates := env.transport.last().frames(protocol.TypeUpdate)
	require.Len(t, updates, 1)
	blob, err := updates[0].Payload.Data()
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "Secret sauce")

	aesKey, err := crypto.DeriveAESKey(key)
	require.NoError(t, err)
	_, err = crypto.DecryptData(aesKey, blob)
	assert.NoError(t, err)
}

func TestEmptyGetReplyForcesSend(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	_, err := o.AddRecipe(core.Recipe{Name: "Toast"})
	require.NoError(t, err)
	o.flushSend()
	require.Len(t, conn.frames(protocol.TypeUpdate), 1)

	reply, err := protocol.NewGetReply(o.DocumentID(), nil).Marshal()
	require.NoError(t, err)
	conn.inbox <- reply

	require.Eventually(t, func() bool { return len(conn.frames(protocol.TypeUpdate)) == 2 }, waitFor, tick)
}

func TestInboundMergeEchoesAndPersists(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	a := newReady(t, env.config(), key)
	require.NoError(t, a.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	b := newReady(t, newTestEnv().config(), key)
	_, err := b.AddRecipe(core.Recipe{Name: "From B"})
	require.NoError(t, err)

	sub := a.Subscribe()
	conn.inbox <- updateFrame(t, b)

	require.Eventually(t, func() bool {
		return len(conn.frames(protocol.TypeUpdate)) == 1 && a.sched.Pending(taskSave)
	}, waitFor, tick)
	recipes, err := a.Recipes()
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "From B", recipes[0].Name)
	assert.Len(t, drain(sub, EventStateChanged), 1)

	env.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return env.store.saveCount() == 1 }, waitFor, tick)
}

func TestTwoDevicesConverge(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	b := newReady(t, newTestEnv().config(), key)

	_, err := a.AddRecipe(core.Recipe{ID: "r1", Name: "Pancakes"})
	require.NoError(t, err)
	_, err = b.AddRecipe(core.Recipe{ID: "r2", Name: "Curry"})
	require.NoError(t, err)

	a.handleFrame(updateFrame(t, b))
	b.handleFrame(updateFrame(t, a))

	for _, o := range []*Orchestrator{a, b} {
		recipes, err := o.Recipes()
		require.NoError(t, err)
		require.Len(t, recipes, 2)
	}
}

func TestConflictFiresOnce(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	b := newReady(t, newTestEnv().config(), key)
	sub := a.SubscribeWithOptions(SubscriptionOptions{Events: []EventType{EventWeekplanConflict}})

	require.NoError(t, a.SetWeekplan(testPlan("2026-W10")))

	// B edits more while offline, so its plan wins the merge on A.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.SetShoppingChecked("eggs", i%2 == 0))
	}
	require.NoError(t, b.SetWeekplan(testPlan("2026-W11")))

	a.handleFrame(updateFrame(t, b))

	conflicts := drain(sub, EventWeekplanConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "2026-W10", conflicts[0].Conflict.Local.WeekID)
	assert.Equal(t, "2026-W11", conflicts[0].Conflict.Merged.WeekID)

	plan, ok, err := a.Weekplan()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-W11", plan.WeekID, "merged plan is kept by default")

	// Three more rounds in the same session, including another diverging plan.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.SetWeekplan(testPlan("2026-W2"+string(rune('0'+i)))))
		a.handleFrame(updateFrame(t, b))
		b.handleFrame(updateFrame(t, a))
	}
	assert.Empty(t, drain(sub, EventWeekplanConflict))
}

func TestConflictKeepLocal(t *testing.T) {
	key := newSyncKey(t)

	var gotLocal, gotMerged string
	cfg := newTestEnv().config()
	cfg.ResolveConflict = func(local, merged core.Weekplan) Resolution {
		gotLocal, gotMerged = local.WeekID, merged.WeekID
		return KeepLocal
	}
	a := newReady(t, cfg, key)
	b := newReady(t, newTestEnv().config(), key)

	require.NoError(t, a.SetWeekplan(testPlan("local")))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.SetShoppingChecked("rice", true))
	}
	require.NoError(t, b.SetWeekplan(testPlan("remote")))

	a.handleFrame(updateFrame(t, b))
	assert.Equal(t, "local", gotLocal)
	assert.Equal(t, "remote", gotMerged)

	plan, _, err := a.Weekplan()
	require.NoError(t, err)
	assert.Equal(t, "local", plan.WeekID)

	// The re-applied plan replicates back and wins on B too.
	b.handleFrame(updateFrame(t, a))
	plan, _, err = b.Weekplan()
	require.NoError(t, err)
	assert.Equal(t, "local", plan.WeekID)
}

func TestNoConflictWithoutLocalPlan(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	b := newReady(t, newTestEnv().config(), key)
	sub := a.Subscribe()

	require.NoError(t, b.SetWeekplan(testPlan("remote")))
	a.handleFrame(updateFrame(t, b))

	assert.Empty(t, drain(sub, EventWeekplanConflict))
}

func TestDecryptFailure(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	_, err := a.AddRecipe(core.Recipe{Name: "Mine"})
	require.NoError(t, err)
	sub := a.Subscribe()

	otherKey, _ := crypto.DeriveAESKey(newSyncKey(t))
	blob, err := crypto.EncryptData(otherKey, []byte("some other document"))
	require.NoError(t, err)
	frame, _ := protocol.NewUpdate(a.DocumentID(), blob).Marshal()

	a.handleFrame(frame)

	failures := drain(sub, EventDecryptFailed)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, crypto.ErrDecrypt)

	recipes, err := a.Recipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 1, "failed import leaves the document untouched")
}

func TestPlaintextFallback(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	sub := a.Subscribe()

	cfg := newTestEnv().config()
	cfg.DisableEncryption = true
	b := newReady(t, cfg, key)
	_, err := b.AddRecipe(core.Recipe{Name: "Sent in the clear"})
	require.NoError(t, err)

	a.handleFrame(updateFrame(t, b))

	assert.Len(t, drain(sub, EventDecryptFailed), 1)
	recipes, err := a.Recipes()
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Sent in the clear", recipes[0].Name)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()
	_, err := o.AddRecipe(core.Recipe{Name: "Keep me"})
	require.NoError(t, err)

	o.mu.Lock()
	before := o.doc.Version()
	o.mu.Unlock()

	frames := []string{
		`garbage`,
		`{"type":"update"}`,
		`{"type":"update","payload":{"id":"` + o.DocumentID() + `","binary":"%%%","encoding":"base64"}}`,
		`{"type":"update","payload":{"id":"` + o.DocumentID() + `","binary":"aGVsbG8=","encoding":"base64"}}`,
		`{"type":"unknown","payload":{"id":"` + o.DocumentID() + `"}}`,
		`{"type":"getState","clients":4}`,
	}
	for _, f := range frames {
		conn.inbox <- []byte(f)
	}

	require.Eventually(t, func() bool { return len(conn.inbox) == 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StatusConnected, o.Status())
	o.mu.Lock()
	after := o.doc.Version()
	o.mu.Unlock()
	assert.Equal(t, before, after)
}

func TestFramesForOtherDocumentsAreIgnored(t *testing.T) {
	key := newSyncKey(t)
	a := newReady(t, newTestEnv().config(), key)
	other := newReady(t, newTestEnv().config(), newSyncKey(t))
	_, err := other.AddRecipe(core.Recipe{Name: "Not yours"})
	require.NoError(t, err)

	a.handleFrame(updateFrame(t, other))

	recipes, err := a.Recipes()
	require.NoError(t, err)
	assert.Empty(t, recipes)
}

func TestReconnectBackoff(t *testing.T) {
	env := newTestEnv()
	cfg := env.config()
	cfg.MaxReconnectAttempts = 3
	o := newReady(t, cfg, newSyncKey(t))

	env.transport.setFail(true)
	require.ErrorIs(t, o.Connect(context.Background(), relayURL), errDialRefused)
	assert.Equal(t, 1, env.transport.dialCount())

	// Delays grow linearly: 2s, 4s, 6s.
	for attempt, delay := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		env.clock.Add(delay - time.Millisecond)
		assert.Equal(t, attempt+1, env.transport.dialCount(), "no dial before the delay elapses")

		env.clock.Add(time.Millisecond)
		want := attempt + 2
		require.Eventually(t, func() bool {
			return env.transport.dialCount() == want && o.Status() == StatusDisconnected
		}, waitFor, tick)
	}

	// Budget exhausted
	require.Eventually(t, func() bool { return !o.sched.Pending(taskReconnect) }, waitFor, tick)
	env.clock.Add(time.Hour)
	assert.Never(t, func() bool { return env.transport.dialCount() > 4 }, 50*time.Millisecond, tick)

	// SyncNow restores the budget and dials immediately.
	env.transport.setFail(false)
	require.NoError(t, o.SyncNow(context.Background()))
	assert.Equal(t, StatusConnected, o.Status())
	assert.Equal(t, 5, env.transport.dialCount())
}

func TestReconnectAfterDrop(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))

	env.transport.last().Close()
	require.Eventually(t, func() bool {
		return o.Status() == StatusDisconnected && o.sched.Pending(taskReconnect)
	}, waitFor, tick)

	env.clock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return o.Status() == StatusConnected }, waitFor, tick)
	assert.Equal(t, 2, env.transport.dialCount())

	o.mu.Lock()
	attempts := o.attempts
	o.mu.Unlock()
	assert.Equal(t, 0, attempts, "successful open resets the attempt counter")

	require.Eventually(t, func() bool {
		return len(env.transport.last().frames(protocol.TypeGet)) == 1
	}, waitFor, tick, "reconnect requests the relay state again")
}

func TestSyncNowWhenConnected(t *testing.T) {
	env := newTestEnv()
	o := newReady(t, env.config(), newSyncKey(t))

	assert.ErrorIs(t, o.SyncNow(context.Background()), ErrNoRelay)

	require.NoError(t, o.Connect(context.Background(), relayURL))
	require.NoError(t, o.SyncNow(context.Background()))
	assert.Len(t, env.transport.last().frames(protocol.TypeGet), 2)
}

func TestDisconnectFlushesPendingSave(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	o := newReady(t, env.config(), key)

	_, err := o.AddRecipe(core.Recipe{ID: "r1", Name: "Unsaved"})
	require.NoError(t, err)
	assert.Equal(t, 0, env.store.saveCount())

	require.NoError(t, o.Disconnect())
	assert.Equal(t, 1, env.store.saveCount(), "pending save runs synchronously")

	// Pending timers were cancelled.
	env.clock.Add(time.Minute)
	assert.Never(t, func() bool { return env.store.saveCount() > 1 }, 50*time.Millisecond, tick)

	restored := newReady(t, env.config(), key)
	r, err := restored.Recipe("r1")
	require.NoError(t, err)
	assert.Equal(t, "Unsaved", r.Name)
}

func TestInitRejectsCorruptSnapshot(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	docID, _ := crypto.DeriveDocID(key)
	require.NoError(t, env.store.Save(docID, []byte("not a snapshot")))

	o := New(env.config())
	defer o.Close()
	require.NoError(t, o.InitWithKey(key))
	assert.Error(t, o.Init())
	assert.Equal(t, StatusKeyBound, o.Status())
}

func TestRestoredDocumentKeepsReplica(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	o := newReady(t, env.config(), key)
	_, err := o.AddRecipe(core.Recipe{Name: "Soup"})
	require.NoError(t, err)

	o.mu.Lock()
	replica := o.doc.Replica()
	o.mu.Unlock()
	require.NoError(t, o.Disconnect())

	require.NoError(t, o.InitWithKey(key))
	require.NoError(t, o.Init())
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Equal(t, replica, o.doc.Replica())
}

func TestSubscriptionClose(t *testing.T) {
	o := New(newTestEnv().config())
	sub := o.Subscribe()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing after close must not panic.
	require.NoError(t, o.InitWithKey(newSyncKey(t)))
	require.NoError(t, o.Close())
}

func TestSyncedFollowsGetReplies(t *testing.T) {
	env := newTestEnv()
	key := newSyncKey(t)
	a := newReady(t, env.config(), key)
	sub := a.SubscribeWithOptions(SubscriptionOptions{Events: []EventType{EventSynced}})
	require.NoError(t, a.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	b := newReady(t, newTestEnv().config(), key)
	_, err := b.AddRecipe(core.Recipe{Name: "Soup"})
	require.NoError(t, err)

	// A broadcast update is not an answer to our get.
	conn.inbox <- updateFrame(t, b)
	require.Eventually(t, func() bool { return len(conn.frames(protocol.TypeUpdate)) == 1 }, waitFor, tick)
	assert.Empty(t, drain(sub, EventSynced))

	blob, err := protocol.Parse(updateFrame(t, b))
	require.NoError(t, err)
	data, err := blob.Payload.Data()
	require.NoError(t, err)
	reply, err := protocol.NewGetReply(a.DocumentID(), data).Marshal()
	require.NoError(t, err)
	conn.inbox <- reply

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventSynced, ev.Type)
	case <-time.After(waitFor):
		t.Fatal("no synced event")
	}
}

func TestStoreFailureDoesNotBlockSync(t *testing.T) {
	env := newTestEnv()
	env.store.setFail(true)

	o := newReady(t, env.config(), newSyncKey(t))
	recipes, err := o.Recipes()
	require.NoError(t, err)
	assert.Empty(t, recipes, "unreadable store starts an empty document")

	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	_, err = o.AddRecipe(core.Recipe{Name: "Ramen"})
	require.NoError(t, err)
	require.NoError(t, o.SetShoppingChecked("noodles", true))

	env.clock.Add(150 * time.Millisecond)
	require.Eventually(t, func() bool { return len(conn.frames(protocol.TypeUpdate)) == 1 }, waitFor, tick)

	env.clock.Add(3 * time.Second)
	assert.Never(t, func() bool { return env.store.saveCount() > 0 }, 50*time.Millisecond, tick)

	recipes, err = o.Recipes()
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Ramen", recipes[0].Name)

	env.store.setFail(false)
	require.NoError(t, o.SetShoppingChecked("broth", true))
	env.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return env.store.saveCount() == 1 }, waitFor, tick)
}

func TestMergeRejectsUndecodableRegisters(t *testing.T) {
	env := newTestEnv()
	cfg := env.config()
	cfg.DisableEncryption = true
	o := newReady(t, cfg, newSyncKey(t))
	_, err := o.AddRecipe(core.Recipe{Name: "Gazpacho"})
	require.NoError(t, err)

	number, err := cbor.Marshal(42)
	require.NoError(t, err)
	bad, err := cbor.Marshal(crdt.State{
		Format: 1,
		Regions: map[string]map[string]crdt.Element{
			crdt.RegionRecipes: {"x": {Value: number, Stamp: core.Stamp{Time: 9, Replica: "z"}}},
		},
	})
	require.NoError(t, err)
	frame, err := protocol.NewUpdate(o.DocumentID(), bad).Marshal()
	require.NoError(t, err)

	o.handleFrame(frame)

	recipes, err := o.Recipes()
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "Gazpacho", recipes[0].Name)
	_, err = o.ShoppingChecked()
	assert.NoError(t, err)
}

func TestRebindWhileOldConnectionDrains(t *testing.T) {
	env := newTestEnv()
	logs := &lockedBuffer{}
	cfg := env.config()
	cfg.Logger = zerolog.New(logs)

	o := newReady(t, cfg, newSyncKey(t))
	require.NoError(t, o.Connect(context.Background(), relayURL))
	conn := env.transport.last()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			select {
			case conn.inbox <- []byte("not json"):
			default:
			}
		}
	}()

	require.NoError(t, o.Disconnect())
	key := newSyncKey(t)
	require.NoError(t, o.InitWithKey(key))
	require.NoError(t, o.Init())
	<-done

	docID, err := crypto.DeriveDocID(key)
	require.NoError(t, err)
	assert.Equal(t, docID, o.DocumentID())
	assert.Contains(t, logs.String(), `"doc":"`+docID+`"`)
}
