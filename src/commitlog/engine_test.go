package commitlog

import (
	"reflect"
	"testing"

	"github.com/gabbleio/gabble/src/common"
	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/wire"
)

func newTestEngine(t *testing.T) (*Engine, *node.InmemSender) {
	sender := node.NewInmemSender("n1")
	eng := NewEngine(sender, common.NewTestEntry(t, "commitlog"))

	return eng, sender
}

func sendFrom(src, key string, msg int64, id uint64) *wire.Envelope {
	body := &wire.SendBody{Header: wire.NewHeader(wire.KindSend), Key: key, Msg: msg}
	wire.SetID(body, id)

	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

func pollFrom(src string, offsets map[string]int64, id uint64) *wire.Envelope {
	body := &wire.PollBody{Header: wire.NewHeader(wire.KindPoll), Offsets: offsets}
	wire.SetID(body, id)

	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

func commitFrom(src string, offsets map[string]int64, id uint64) *wire.Envelope {
	body := &wire.CommitOffsetsBody{Header: wire.NewHeader(wire.KindCommitOffsets), Offsets: offsets}
	wire.SetID(body, id)

	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

func listFrom(src string, keys []string, id uint64) *wire.Envelope {
	body := &wire.ListCommittedOffsetsBody{Header: wire.NewHeader(wire.KindListCommittedOffsets), Keys: keys}
	wire.SetID(body, id)

	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

// onlyReply drains the sender and asserts it holds exactly one message.
func onlyReply(t *testing.T, sender *node.InmemSender) node.Sent {
	t.Helper()

	sent := sender.Take()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 reply, got %d", len(sent))
	}

	return sent[0]
}

func appendEntries(t *testing.T, eng *Engine, sender *node.InmemSender, key string, msgs ...int64) {
	t.Helper()

	for _, msg := range msgs {
		if err := eng.HandleSend(sendFrom("c9", key, msg, 1)); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	sender.Take()
}

func TestSendAssignsDenseOffsets(t *testing.T) {
	eng, sender := newTestEngine(t)

	for i, msg := range []int64{10, 20, 30} {
		if err := eng.HandleSend(sendFrom("c1", "k1", msg, uint64(i+1))); err != nil {
			t.Fatalf("err: %v", err)
		}

		reply, ok := onlyReply(t, sender).Body.(*wire.SendOKBody)
		if !ok {
			t.Fatalf("reply should be send_ok")
		}
		if reply.Offset != int64(i) {
			t.Fatalf("send %d should land at offset %d, not %d", msg, i, reply.Offset)
		}
		if re := reply.ReplyTo(); re != uint64(i+1) {
			t.Fatalf("in_reply_to should be %d, not %d", i+1, re)
		}
	}

	if err := eng.HandleSend(sendFrom("c1", "k2", 99, 7)); err != nil {
		t.Fatalf("err: %v", err)
	}
	reply := onlyReply(t, sender).Body.(*wire.SendOKBody)
	if reply.Offset != 0 {
		t.Fatalf("k2 should start at offset 0, not %d", reply.Offset)
	}
}

func TestPollFromOffset(t *testing.T) {
	eng, sender := newTestEngine(t)
	appendEntries(t, eng, sender, "k1", 10, 20, 30)

	err := eng.HandlePoll(pollFrom("c1", map[string]int64{"k1": 1, "ghost": 0}, 4))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	reply, ok := onlyReply(t, sender).Body.(*wire.PollOKBody)
	if !ok {
		t.Fatalf("reply should be poll_ok")
	}

	// Unknown keys are omitted; known keys return [offset, msg] pairs.
	expected := map[string][][2]int64{"k1": {{1, 20}, {2, 30}}}
	if !reflect.DeepEqual(reply.Msgs, expected) {
		t.Fatalf("msgs should be %v, not %v", expected, reply.Msgs)
	}
	if re := reply.ReplyTo(); re != 4 {
		t.Fatalf("in_reply_to should be 4, not %d", re)
	}
}

func TestPollPastEndReturnsEmptyList(t *testing.T) {
	eng, sender := newTestEngine(t)
	appendEntries(t, eng, sender, "k1", 10)

	if err := eng.HandlePoll(pollFrom("c1", map[string]int64{"k1": 5}, 2)); err != nil {
		t.Fatalf("err: %v", err)
	}

	reply := onlyReply(t, sender).Body.(*wire.PollOKBody)
	entries, ok := reply.Msgs["k1"]
	if !ok {
		t.Fatal("a known key should appear in msgs even when the poll starts past the end")
	}
	if len(entries) != 0 {
		t.Fatalf("poll past the end should return no entries, not %v", entries)
	}
}

func TestCommitListRoundTrip(t *testing.T) {
	eng, sender := newTestEngine(t)
	appendEntries(t, eng, sender, "k1", 10, 20, 30)
	appendEntries(t, eng, sender, "k2", 40)

	err := eng.HandleCommitOffsets(commitFrom("c1", map[string]int64{"k1": 1, "k2": 0}, 5))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	ack, ok := onlyReply(t, sender).Body.(*wire.CommitOffsetsOKBody)
	if !ok {
		t.Fatalf("reply should be commit_offsets_ok")
	}
	if re := ack.ReplyTo(); re != 5 {
		t.Fatalf("in_reply_to should be 5, not %d", re)
	}

	err = eng.HandleListCommittedOffsets(listFrom("c1", []string{"k1", "k2", "ghost"}, 6))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	reply, ok := onlyReply(t, sender).Body.(*wire.ListCommittedOffsetsOKBody)
	if !ok {
		t.Fatalf("reply should be list_committed_offsets_ok")
	}

	// Keys with no committed offset are omitted.
	expected := map[string]int64{"k1": 1, "k2": 0}
	if !reflect.DeepEqual(reply.Offsets, expected) {
		t.Fatalf("offsets should be %v, not %v", expected, reply.Offsets)
	}
}

func TestCommitPastEndRejected(t *testing.T) {
	eng, sender := newTestEngine(t)
	appendEntries(t, eng, sender, "k1", 10, 20)

	err := eng.HandleCommitOffsets(commitFrom("c1", map[string]int64{"k1": 2}, 3))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	reply, ok := onlyReply(t, sender).Body.(*wire.ErrorBody)
	if !ok {
		t.Fatalf("commit past the end should be rejected with an error body")
	}
	if reply.Code != wire.ErrMalformedRequest {
		t.Fatalf("error code should be %d, not %d", wire.ErrMalformedRequest, reply.Code)
	}

	if err := eng.HandleListCommittedOffsets(listFrom("c1", []string{"k1"}, 4)); err != nil {
		t.Fatalf("err: %v", err)
	}
	list := onlyReply(t, sender).Body.(*wire.ListCommittedOffsetsOKBody)
	if len(list.Offsets) != 0 {
		t.Fatalf("a rejected commit should record nothing, got %v", list.Offsets)
	}
}

func TestCommitUnknownKeyRejected(t *testing.T) {
	eng, sender := newTestEngine(t)
	appendEntries(t, eng, sender, "k1", 10)

	err := eng.HandleCommitOffsets(commitFrom("c1", map[string]int64{"k1": 0, "ghost": 0}, 3))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	reply, ok := onlyReply(t, sender).Body.(*wire.ErrorBody)
	if !ok {
		t.Fatalf("commit of an unknown key should be rejected with an error body")
	}
	if reply.Code != wire.ErrKeyDoesNotExist {
		t.Fatalf("error code should be %d, not %d", wire.ErrKeyDoesNotExist, reply.Code)
	}

	// The rejection covers the whole request, including its valid keys.
	if err := eng.HandleListCommittedOffsets(listFrom("c1", []string{"k1"}, 4)); err != nil {
		t.Fatalf("err: %v", err)
	}
	list := onlyReply(t, sender).Body.(*wire.ListCommittedOffsetsOKBody)
	if len(list.Offsets) != 0 {
		t.Fatalf("a rejected commit should record nothing, got %v", list.Offsets)
	}
}
