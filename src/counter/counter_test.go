package counter

import (
	"testing"

	"github.com/gabbleio/gabble/src/common"
	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/peers"
	"github.com/gabbleio/gabble/src/wire"
)

func newTestEngine(t *testing.T, roster []string) (*Engine, *node.InmemSender) {
	t.Helper()

	conf := config.NewTestConfig(t)

	sender := node.NewInmemSender("n1")
	eng := NewEngine(conf, sender, common.NewTestEntry(t, "counter"))
	eng.Start("n1", peers.NewPeerSet(roster))

	return eng, sender
}

func addFrom(src string, msgID uint64, delta int64) *wire.Envelope {
	body := &wire.AddBody{Header: wire.NewHeader(wire.KindAdd), Delta: delta}
	wire.SetID(body, msgID)
	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

func readFrom(src string, msgID uint64) *wire.Envelope {
	body := &wire.ReadBody{Header: wire.NewHeader(wire.KindRead)}
	wire.SetID(body, msgID)
	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

func casOKFor(id uint64) *wire.Envelope {
	body := &wire.CASOKBody{Header: wire.NewHeader(wire.KindCASOK)}
	wire.SetReplyTo(body, id)
	return &wire.Envelope{Src: "seq-kv", Dest: "n1", Body: body}
}

func errorFor(id uint64, code wire.ErrorCode) *wire.Envelope {
	body := wire.NewError(code, code.String())
	wire.SetReplyTo(body, id)
	return &wire.Envelope{Src: "seq-kv", Dest: "n1", Body: body}
}

func readOKFor(src string, id uint64, value int64) *wire.Envelope {
	body := &wire.ReadOKBody{Header: wire.NewHeader(wire.KindReadOK), Value: &value}
	wire.SetReplyTo(body, id)
	return &wire.Envelope{Src: src, Dest: "n1", Body: body}
}

// findOne returns the single sent message to dest with the given kind, or
// fails the test.
func findOne(t *testing.T, sent []node.Sent, kind wire.Kind, dest string) node.Sent {
	t.Helper()

	var out []node.Sent
	for _, s := range sent {
		if s.Body.Kind() == kind && s.Dest == dest {
			out = append(out, s)
		}
	}

	if len(out) != 1 {
		t.Fatalf("expected 1 %s to %s, got %d", kind, dest, len(out))
	}

	return out[0]
}

func countKind(sent []node.Sent, kind wire.Kind) int {
	n := 0
	for _, s := range sent {
		if s.Body.Kind() == kind {
			n++
		}
	}
	return n
}

func readValue(t *testing.T, eng *Engine, sender *node.InmemSender, msgID uint64) int64 {
	t.Helper()

	if err := eng.HandleRead(readFrom("c1", msgID)); err != nil {
		t.Fatalf("err: %v", err)
	}

	reply := findOne(t, sender.Take(), wire.KindReadOK, "c1")
	readOK := reply.Body.(*wire.ReadOKBody)
	if readOK.Value == nil {
		t.Fatal("counter read_ok should carry a value")
	}

	return *readOK.Value
}

func TestAddCommitsThroughCAS(t *testing.T) {
	eng, sender := newTestEngine(t, []string{"n1"})

	if err := eng.HandleAdd(addFrom("c1", 1, 5)); err != nil {
		t.Fatalf("err: %v", err)
	}

	sent := sender.Take()

	findOne(t, sent, wire.KindAddOK, "c1")

	cas := findOne(t, sent, wire.KindCAS, "seq-kv")
	casBody := cas.Body.(*wire.CASBody)
	if casBody.Key != "total" || casBody.From != 0 || casBody.To != 5 {
		t.Fatalf("first CAS should move total 0->5, got %s %d->%d",
			casBody.Key, casBody.From, casBody.To)
	}
	if !casBody.CreateIfNotExists {
		t.Fatal("the first CAS should ask the store to create the key")
	}

	// a delta arriving mid-flight buffers; no second CAS yet
	if err := eng.HandleAdd(addFrom("c1", 2, 3)); err != nil {
		t.Fatalf("err: %v", err)
	}
	sent = sender.Take()
	findOne(t, sent, wire.KindAddOK, "c1")
	if n := countKind(sent, wire.KindCAS); n != 0 {
		t.Fatalf("adds must buffer behind an in-flight CAS, got %d more", n)
	}

	// the first CAS lands; the buffered delta flushes on a fresh base
	cas.OnReply(casOKFor(cas.ID))

	second := findOne(t, sender.Take(), wire.KindCAS, "seq-kv")
	secondBody := second.Body.(*wire.CASBody)
	if secondBody.From != 5 || secondBody.To != 8 {
		t.Fatalf("second CAS should move total 5->8, got %d->%d",
			secondBody.From, secondBody.To)
	}
	if secondBody.CreateIfNotExists {
		t.Fatal("the key exists now; create_if_not_exists should be unset")
	}

	second.OnReply(casOKFor(second.ID))
	sender.Take()

	if v := readValue(t, eng, sender, 9); v != 8 {
		t.Fatalf("read should return 8, not %d", v)
	}
}

func TestCASPreconditionFailureRereads(t *testing.T) {
	eng, sender := newTestEngine(t, []string{"n1"})

	if err := eng.HandleAdd(addFrom("c1", 1, 5)); err != nil {
		t.Fatalf("err: %v", err)
	}

	cas := findOne(t, sender.Take(), wire.KindCAS, "seq-kv")

	// another node moved the total; our base of 0 is stale
	cas.OnReply(errorFor(cas.ID, wire.ErrPreconditionFailed))

	read := findOne(t, sender.Take(), wire.KindRead, "seq-kv")
	if key := read.Body.(*wire.ReadBody).Key; key != "total" {
		t.Fatalf("re-read should target the total key, not %q", key)
	}

	read.OnReply(readOKFor("seq-kv", read.ID, 12))

	retry := findOne(t, sender.Take(), wire.KindCAS, "seq-kv")
	retryBody := retry.Body.(*wire.CASBody)
	if retryBody.From != 12 || retryBody.To != 17 {
		t.Fatalf("the re-attempt should move total 12->17, got %d->%d",
			retryBody.From, retryBody.To)
	}

	retry.OnReply(casOKFor(retry.ID))
	sender.Take()

	if v := readValue(t, eng, sender, 9); v != 17 {
		t.Fatalf("read should return 17, not %d", v)
	}
}

func TestCASTimeoutReattempts(t *testing.T) {
	eng, sender := newTestEngine(t, []string{"n1"})

	if err := eng.HandleAdd(addFrom("c1", 1, 5)); err != nil {
		t.Fatalf("err: %v", err)
	}

	cas := findOne(t, sender.Take(), wire.KindCAS, "seq-kv")

	cas.OnTimeout()

	retry := findOne(t, sender.Take(), wire.KindCAS, "seq-kv")
	if retry.ID == cas.ID {
		t.Fatal("the re-attempt must carry a fresh msg_id")
	}
	retryBody := retry.Body.(*wire.CASBody)
	if retryBody.From != 0 || retryBody.To != 5 {
		t.Fatalf("the re-attempt should still move total 0->5, got %d->%d",
			retryBody.From, retryBody.To)
	}
}

func TestReadIncludesPending(t *testing.T) {
	eng, sender := newTestEngine(t, []string{"n1"})

	if err := eng.HandleAdd(addFrom("c1", 1, 5)); err != nil {
		t.Fatalf("err: %v", err)
	}
	sender.Take()

	// nothing committed yet; the local view still covers the buffered delta
	if v := readValue(t, eng, sender, 2); v != 5 {
		t.Fatalf("read should return 5, not %d", v)
	}
}

func TestRefreshPollsStoreAndPeers(t *testing.T) {
	eng, sender := newTestEngine(t, []string{"n1", "n2", "n3"})

	eng.Refresh()

	sent := sender.Take()

	storePoll := findOne(t, sent, wire.KindRead, "seq-kv")
	if key := storePoll.Body.(*wire.ReadBody).Key; key != "total" {
		t.Fatalf("store poll should target the total key, not %q", key)
	}

	findOne(t, sent, wire.KindRead, "n2")
	n3Poll := findOne(t, sent, wire.KindRead, "n3")

	// a peer's view folds in via max
	n3Poll.OnReply(readOKFor("n3", n3Poll.ID, 40))
	if v := readValue(t, eng, sender, 5); v != 40 {
		t.Fatalf("peer view should lift the local view to 40, not %d", v)
	}

	// a smaller peer view later must not lower it
	eng.Refresh()
	sent = sender.Take()
	n2Poll := findOne(t, sent, wire.KindRead, "n2")
	n2Poll.OnReply(readOKFor("n2", n2Poll.ID, 10))

	if v := readValue(t, eng, sender, 6); v != 40 {
		t.Fatalf("a lower peer view must not shrink the local view, got %d", v)
	}
}

func TestRefreshBeforeStartIdles(t *testing.T) {
	conf := config.NewTestConfig(t)
	sender := node.NewInmemSender("n1")
	eng := NewEngine(conf, sender, common.NewTestEntry(t, "counter"))

	eng.Refresh()

	if sent := sender.Take(); len(sent) != 0 {
		t.Fatalf("refresh before init should send nothing, got %d", len(sent))
	}
}
