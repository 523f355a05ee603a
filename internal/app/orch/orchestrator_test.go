package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
)

func TestEstablish_ReplacesExistingSession(t *testing.T) {
	h := newHarness("a")
	first, err := h.o.EstablishSession("b", false, nil)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	oldTr := h.factory.last()

	second, err := h.o.EstablishSession("b", true, nil)
	if err != nil {
		t.Fatalf("Establish again: %v", err)
	}
	if oldTr.destroyed != 1 {
		t.Errorf("old transport destroyed %d times, want 1", oldTr.destroyed)
	}
	if h.o.Sessions.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", h.o.Sessions.Len())
	}
	if got, _ := h.o.Sessions.Get("b"); got != second || got == first {
		t.Fatal("table does not hold the replacement session")
	}
	if !first.Closed() {
		t.Error("replaced session not closed")
	}

	// Late events from the replaced transport must not touch shared state.
	oldTr.events.OnClose()
	oldTr.events.OnSignal(json.RawMessage(`{"type":"offer"}`))
	oldTr.events.OnData([]byte(`{"type":"text","payload":"late"}`))
	if h.o.Sessions.Len() != 1 {
		t.Error("stale close removed the new session")
	}
	if len(h.signals.out) != 0 {
		t.Error("stale signal relayed")
	}
	if len(h.o.Chat.Entries()) != 0 {
		t.Error("stale data reached the chat log")
	}
}

func TestEstablish_RejectsSelf(t *testing.T) {
	h := newHarness("a")
	for _, pid := range []domain.ParticipantID{"a", domain.Me, ""} {
		if _, err := h.o.EstablishSession(pid, false, nil); !errors.Is(err, ErrSelfSession) {
			t.Errorf("Establish(%q) error = %v", pid, err)
		}
	}
}

func TestEstablish_FactoryFailure(t *testing.T) {
	h := newHarness("a")
	h.factory.err = errBroken
	_, err := h.o.EstablishSession("b", false, nil)
	var te *core.TransportError
	if !errors.As(err, &te) || te.Participant != "b" {
		t.Fatalf("error = %v, want TransportError for b", err)
	}
	if h.o.Sessions.Len() != 0 {
		t.Error("failed session recorded")
	}
	if len(h.notify.errs) != 1 {
		t.Errorf("error notifications = %v", h.notify.errs)
	}
}

func TestJoinPeer_InitiatorRole(t *testing.T) {
	h := newHarness("a")
	sb, _ := h.o.JoinPeer("b", "b", nil)
	sc, _ := h.o.JoinPeer("c", "a", nil)
	if !sb.Initiator || !h.factory.created[0].opts.Initiator {
		t.Error("session to designated initiator should initiate")
	}
	if sc.Initiator {
		t.Error("session to non-designated peer should not initiate")
	}
}

func TestScenario_NicknameSentOnceOnConnect(t *testing.T) {
	h := newHarness("a")
	h.o.Nicknames.Set(domain.Me, "alice")

	if _, err := h.o.EstablishSession("b", false, nil); err != nil {
		t.Fatal(err)
	}
	tr := h.factory.last()
	tr.events.OnConnect()
	tr.events.OnConnect()

	if len(tr.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(tr.sent))
	}
	want := `{"type":"nickname","payload":{"nickname":"alice"}}`
	if string(tr.sent[0]) != want {
		t.Errorf("sent %s, want %s", tr.sent[0], want)
	}
	wantWarn := []string{"Connecting to peer...", "Peer connection established"}
	if strings.Join(h.notify.warn, "|") != strings.Join(wantWarn, "|") {
		t.Errorf("warnings = %v, want %v", h.notify.warn, wantWarn)
	}
}

func TestScenario_RoomSentOnConnectAndMappedByReceiver(t *testing.T) {
	a := newHarness("a")
	if err := a.o.SetLocalRoom("team1"); err != nil {
		t.Fatal(err)
	}
	trAB := a.connect("b")

	if len(trAB.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(trAB.sent))
	}
	env, err := protocol.Decode(trAB.sent[0])
	if err != nil {
		t.Fatal(err)
	}
	room, ok := env.(protocol.Room)
	if !ok || room.Room != "team1" || room.ParticipantID != domain.Me {
		t.Fatalf("sent %#v, want room team1 for sentinel", env)
	}

	b := newHarness("b")
	trBA := b.connect("a")
	trBA.events.OnData(trAB.sent[0])
	if got, _ := b.o.Rooms.Room("a"); got != "team1" {
		t.Errorf("receiver room for a = %q, want team1", got)
	}
	if b.o.Rooms.ResolveGain(domain.Me, "a") != domain.AttenuatedGain {
		t.Error("peers in different rooms should be attenuated")
	}
}

func TestScenario_MalformedDataKeepsSession(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	h.o.Rooms.SetRoom("b", "x")

	tr.events.OnData([]byte("{not json"))
	tr.events.OnData([]byte{0xff, 0xfe})

	if _, ok := h.o.Sessions.Get("b"); !ok {
		t.Fatal("session removed after decode failure")
	}
	if got, _ := h.o.Rooms.Room("b"); got != "x" {
		t.Errorf("room table mutated: %q", got)
	}
	if len(h.o.Nicknames.Snapshot()) != 0 {
		t.Error("nickname table mutated")
	}
	for _, e := range h.o.Chat.Entries() {
		if !e.System {
			t.Errorf("unexpected chat entry %+v", e)
		}
	}
	if tr.destroyed != 0 {
		t.Error("transport destroyed after decode failure")
	}
}

func TestScenario_BroadcastMirrorsBeforeSending(t *testing.T) {
	h := newHarness("a")
	trB := h.connect("b")
	trC := h.connect("c")
	before := len(h.o.Chat.Entries())

	check := func() {
		entries := h.o.Chat.Entries()
		if len(entries) != before+1 || entries[len(entries)-1].Message != "hi" {
			t.Error("send issued before the local chat entry")
		}
	}
	trB.onSend, trC.onSend = check, check

	if err := h.o.Broadcast(protocol.Text("hi")); err != nil {
		t.Fatal(err)
	}
	if len(trB.sent) != 1 || len(trC.sent) != 1 {
		t.Fatalf("sends = %d/%d, want 1/1", len(trB.sent), len(trC.sent))
	}
	if string(trB.sent[0]) != string(trC.sent[0]) {
		t.Errorf("payloads differ: %s vs %s", trB.sent[0], trC.sent[0])
	}
	last := h.o.Chat.Entries()[before]
	if last.Participant != domain.Me {
		t.Errorf("chat entry sender = %q, want sentinel", last.Participant)
	}
}

func TestScenario_ErrorAfterCloseIsNoop(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	h.o.Rooms.SetRoom("b", "x")

	tr.events.OnClose()
	tr.events.OnError(errBroken)

	if h.o.Sessions.Len() != 0 {
		t.Error("session still present")
	}
	if _, ok := h.o.Rooms.Room("b"); ok {
		t.Error("room entry survived close")
	}
	if tr.destroyed != 1 {
		t.Errorf("destroyed %d times, want 1", tr.destroyed)
	}
	// Close is reported once, as an error; the late error adds nothing.
	if len(h.notify.errs) != 1 || h.notify.errs[0] != "Peer connection closed" {
		t.Errorf("error notifications = %v", h.notify.errs)
	}
}

func TestError_TearsDownSession(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	tr.events.OnError(errBroken)
	tr.events.OnError(errBroken)

	if h.o.Sessions.Len() != 0 || tr.destroyed != 1 {
		t.Errorf("sessions=%d destroyed=%d", h.o.Sessions.Len(), tr.destroyed)
	}
	if len(h.notify.errs) != 1 {
		t.Errorf("error notifications = %v", h.notify.errs)
	}
}

func TestLeavePeer_Idempotent(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	if !h.o.LeavePeer("b") {
		t.Fatal("LeavePeer = false")
	}
	if h.o.LeavePeer("b") {
		t.Error("second LeavePeer = true")
	}
	if tr.destroyed != 1 {
		t.Errorf("destroyed %d times", tr.destroyed)
	}
}

func TestSignal_RelayAndForward(t *testing.T) {
	h := newHarness("a")
	if _, err := h.o.EstablishSession("b", true, nil); err != nil {
		t.Fatal(err)
	}
	tr := h.factory.last()
	tr.events.OnSignal(json.RawMessage(`{"type":"offer","sdp":"x"}`))
	tr.events.OnSignal(json.RawMessage(`{"type":"candidate"}`))
	if len(h.signals.out) != 2 || h.signals.out[0].to != "b" {
		t.Fatalf("relayed = %+v", h.signals.out)
	}

	if err := h.o.Signal("b", json.RawMessage(`{"type":"answer"}`)); err != nil {
		t.Fatal(err)
	}
	if len(tr.signals) != 1 {
		t.Errorf("forwarded %d signals", len(tr.signals))
	}
	if err := h.o.Signal("zzz", json.RawMessage(`{}`)); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Signal unknown error = %v", err)
	}
}

func TestTrack_MuteUnmuteAndClose(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	rt := &fakeRemoteTrack{id: "t1"}
	tr.events.OnTrack(rt, "s1")

	if got := h.streams.Streams("b"); len(got) != 1 || got[0] != "s1" {
		t.Fatalf("streams = %v", got)
	}
	rt.mute()
	if snap := h.streams.Snapshot(); len(snap[0].Tracks) != 0 {
		t.Error("muted track still shown")
	}
	rt.unmute()
	if snap := h.streams.Snapshot(); len(snap[0].Tracks) != 1 {
		t.Error("unmuted track not shown")
	}

	tr.events.OnClose()
	if got := h.streams.Streams("b"); len(got) != 0 {
		t.Errorf("streams after close = %v", got)
	}
	rt.unmute()
	if got := h.streams.Streams("b"); len(got) != 0 {
		t.Error("unmute after close re-added the stream")
	}
}

func TestReceive_RoomTranslation(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("c")

	tr.events.OnData([]byte(`{"type":"room","payload":{"room":"x","userId":"a"}}`))
	if got, _ := h.o.Rooms.Room(domain.Me); got != "x" {
		t.Errorf("self room = %q, want x", got)
	}
	tr.events.OnData([]byte(`{"type":"room","payload":{"room":"y","userId":"_me_"}}`))
	if got, _ := h.o.Rooms.Room("c"); got != "y" {
		t.Errorf("sender room = %q, want y", got)
	}
	tr.events.OnData([]byte(`{"type":"room","payload":{"room":"z","userId":"d"}}`))
	if got, _ := h.o.Rooms.Room("d"); got != "z" {
		t.Errorf("third-party room = %q, want z", got)
	}

	tr.events.OnData([]byte(`{"type":"room","payload":{"room":"w"}}`))
	if got, _ := h.o.Rooms.Room("c"); got != "w" {
		t.Errorf("room without id = %q for sender, want w", got)
	}
	if _, ok := h.o.Rooms.Room(""); ok {
		t.Error("room stored under empty id")
	}
}

func TestReceive_NullFrameDropped(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	before := len(h.o.Chat.Entries())

	tr.events.OnData([]byte("null"))
	if got := len(h.o.Chat.Entries()); got != before {
		t.Errorf("chat grew from %d to %d on a null frame", before, got)
	}
	if !h.o.HasSession("b") {
		t.Error("session dropped on undecodable frame")
	}
}

func TestReceive_NicknameTextFileUnknown(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")

	tr.events.OnData([]byte(`{"type":"nickname","payload":{"nickname":"bob"}}`))
	tr.events.OnData([]byte(`{"type":"text","payload":"hello"}`))
	tr.events.OnData([]byte(`{"type":"file","payload":{"name":"a.txt","size":1,"type":"text/plain","data":"data:text/plain;base64,eA=="}}`))
	tr.events.OnData([]byte(`{"type":"sticker","payload":"wave"}`))
	tr.events.OnData([]byte(`{"type":"text","payload":{"msg":"hi"}}`))
	tr.events.OnData([]byte(`{"type":"text","payload":42}`))

	if got, _ := h.o.Nicknames.Get("b"); got != "bob" {
		t.Errorf("nickname = %q", got)
	}
	var msgs []string
	for _, e := range h.o.Chat.Entries() {
		msgs = append(msgs, e.Message)
	}
	joined := strings.Join(msgs, "|")
	for _, want := range []string{"User b is now known as bob", "hello", "a.txt", "wave", `{"msg":"hi"}`, "42"} {
		if !strings.Contains(joined, want) {
			t.Errorf("chat %q missing %q", joined, want)
		}
	}
}

func TestMoveParticipant(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	h.connect("c")

	if err := h.o.MoveParticipant("c", "lobby"); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.o.Rooms.Room("c"); got != "lobby" {
		t.Errorf("local room for c = %q", got)
	}
	want := `{"type":"room","payload":{"room":"lobby","userId":"c"}}`
	if string(tr.sent[len(tr.sent)-1]) != want {
		t.Errorf("sent %s, want %s", tr.sent[len(tr.sent)-1], want)
	}

	if err := h.o.MoveParticipant("a", "lobby"); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.o.Rooms.Room(domain.Me); got != "lobby" {
		t.Errorf("self room = %q", got)
	}
	if !strings.Contains(string(tr.sent[len(tr.sent)-1]), `"userId":"_me_"`) {
		t.Errorf("self move not sent as sentinel: %s", tr.sent[len(tr.sent)-1])
	}
	if h.o.Gains()["c"] != domain.FullGain || h.o.Gains()["b"] != domain.AttenuatedGain {
		t.Errorf("gains = %v", h.o.Gains())
	}
}

func TestSetLocalNickname(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	if err := h.o.SetLocalNickname("alice"); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.o.Nicknames.Get(domain.Me); got != "alice" {
		t.Errorf("local nickname = %q", got)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent %d frames", len(tr.sent))
	}
	if err := h.o.SetLocalNickname(strings.Repeat("x", domain.MaxNicknameLen+1)); !errors.Is(err, domain.ErrNicknameTooLong) {
		t.Errorf("long nickname error = %v", err)
	}
}

func TestPolicy_DropPeerOnSendFailure(t *testing.T) {
	h := newHarness("a")
	h.o.Policy = app.StrictPolicy{}
	bad := h.connect("b")
	good := h.connect("c")
	bad.sendErr = errBroken

	if err := h.o.SendText("hi"); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.o.Sessions.Get("b"); ok {
		t.Error("failing peer kept under strict policy")
	}
	if len(good.sent) != 1 {
		t.Error("healthy peer missed the broadcast")
	}
}

func TestPolicy_SimpleKeepsPeer(t *testing.T) {
	h := newHarness("a")
	bad := h.connect("b")
	bad.sendErr = errBroken
	if err := h.o.SendText("hi"); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.o.Sessions.Get("b"); !ok {
		t.Error("peer dropped under simple policy")
	}
}

func TestSendFile(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	ctx := context.Background()

	err := h.o.SendFile(ctx, "a.txt", "text/plain", strings.NewReader("x"))
	if !errors.Is(err, app.ErrUnsupportedCapability) {
		t.Fatalf("error without loader = %v", err)
	}
	if len(h.notify.errs) != 1 || len(tr.sent) != 0 {
		t.Errorf("errs=%v sent=%d", h.notify.errs, len(tr.sent))
	}

	h.o.Files = &app.FileLoader{MaxSize: 16}
	if err := h.o.SendFile(ctx, "a.txt", "text/plain", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d frames", len(tr.sent))
	}
	env, _ := protocol.Decode(tr.sent[0])
	if f, ok := env.(protocol.File); !ok || f.Name != "a.txt" {
		t.Errorf("sent %#v", env)
	}
	last := h.o.Chat.Entries()[len(h.o.Chat.Entries())-1]
	if last.Message != `Send file: "a.txt" to all peers` || last.Image == "" {
		t.Errorf("chat entry = %+v", last)
	}

	err = h.o.SendFile(ctx, "big", "", strings.NewReader(strings.Repeat("x", 17)))
	if !errors.Is(err, app.ErrFileTooLarge) {
		t.Errorf("oversize error = %v", err)
	}
}

func TestConnect_AttachesLocalTracksAndLateStream(t *testing.T) {
	h := newHarness("a")
	tr := h.connect("b")
	if len(tr.tracks) != 0 {
		t.Fatal("tracks attached without a stream")
	}
	track := newTestTrack(t)
	h.o.SetLocalStream(&core.LocalStream{ID: "local", Tracks: []webrtc.TrackLocal{track}})
	if len(tr.tracks) != 1 {
		t.Errorf("late stream not attached: %d", len(tr.tracks))
	}

	if _, err := h.o.EstablishSession("c", false, nil); err != nil {
		t.Fatal(err)
	}
	trC := h.factory.last()
	if trC.opts.Stream == nil {
		t.Error("stream not passed at creation")
	}
	trC.events.OnConnect()
	if len(trC.tracks) != 1 {
		t.Errorf("tracks on connect = %d", len(trC.tracks))
	}
}
