package wire

// Kind is the wire discriminant of a body variant.
type Kind string

// Message kinds understood by the runtime and its workloads. The kv kinds
// (read with a key, write, cas) are spoken with the harness's key/value
// services, which are addressed like peer nodes.
const (
	KindInit                   Kind = "init"
	KindInitOK                 Kind = "init_ok"
	KindEcho                   Kind = "echo"
	KindEchoOK                 Kind = "echo_ok"
	KindGenerate               Kind = "generate"
	KindGenerateOK             Kind = "generate_ok"
	KindTopology               Kind = "topology"
	KindTopologyOK             Kind = "topology_ok"
	KindBroadcast              Kind = "broadcast"
	KindBroadcastOK            Kind = "broadcast_ok"
	KindRead                   Kind = "read"
	KindReadOK                 Kind = "read_ok"
	KindAdd                    Kind = "add"
	KindAddOK                  Kind = "add_ok"
	KindWrite                  Kind = "write"
	KindWriteOK                Kind = "write_ok"
	KindCAS                    Kind = "cas"
	KindCASOK                  Kind = "cas_ok"
	KindSend                   Kind = "send"
	KindSendOK                 Kind = "send_ok"
	KindPoll                   Kind = "poll"
	KindPollOK                 Kind = "poll_ok"
	KindCommitOffsets          Kind = "commit_offsets"
	KindCommitOffsetsOK        Kind = "commit_offsets_ok"
	KindListCommittedOffsets   Kind = "list_committed_offsets"
	KindListCommittedOffsetsOK Kind = "list_committed_offsets_ok"
	KindError                  Kind = "error"
)

// InitBody assigns the node its identity and the full cluster roster. The
// harness sends it exactly once, before anything else.
type InitBody struct {
	Header
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

// InitOKBody acknowledges init.
type InitOKBody struct {
	Header
}

type EchoBody struct {
	Header
	Echo string `json:"echo"`
}

type EchoOKBody struct {
	Header
	Echo string `json:"echo"`
}

type GenerateBody struct {
	Header
}

type GenerateOKBody struct {
	Header
	ID string `json:"id"`
}

// TopologyBody carries the harness-suggested neighbor graph.
type TopologyBody struct {
	Header
	Topology map[string][]string `json:"topology"`
}

type TopologyOKBody struct {
	Header
}

// BroadcastBody carries gossip: a single value from a client, or a batch
// accumulated by the batching gossip policy.
type BroadcastBody struct {
	Header
	Message Values `json:"message"`
}

type BroadcastOKBody struct {
	Header
}

// ReadBody asks for state: with no key, the replicated value set or the
// counter total; with a key, a kv-service lookup.
type ReadBody struct {
	Header
	Key string `json:"key,omitempty"`
}

// ReadOKBody answers a read. Messages is set for value-set reads, Value for
// counter and kv reads; both are pointers so the unused one stays off the
// wire.
type ReadOKBody struct {
	Header
	Messages *[]int64 `json:"messages,omitempty"`
	Value    *int64   `json:"value,omitempty"`
}

type AddBody struct {
	Header
	Delta int64 `json:"delta"`
}

type AddOKBody struct {
	Header
}

// WriteBody overwrites a kv-service key.
type WriteBody struct {
	Header
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

type WriteOKBody struct {
	Header
}

// CASBody atomically swaps a kv-service key from one expected value to
// another.
type CASBody struct {
	Header
	Key               string `json:"key"`
	From              int64  `json:"from"`
	To                int64  `json:"to"`
	CreateIfNotExists bool   `json:"create_if_not_exists,omitempty"`
}

type CASOKBody struct {
	Header
}

// SendBody appends a message to a keyed log.
type SendBody struct {
	Header
	Key string `json:"key"`
	Msg int64  `json:"msg"`
}

type SendOKBody struct {
	Header
	Offset int64 `json:"offset"`
}

// PollBody requests log entries, per key, from the given offsets.
type PollBody struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

// PollOKBody returns, per key, [offset, msg] pairs in offset order.
type PollOKBody struct {
	Header
	Msgs map[string][][2]int64 `json:"msgs"`
}

type CommitOffsetsBody struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

type CommitOffsetsOKBody struct {
	Header
}

type ListCommittedOffsetsBody struct {
	Header
	Keys []string `json:"keys"`
}

type ListCommittedOffsetsOKBody struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

// ErrorBody reports a failed request back to its sender.
type ErrorBody struct {
	Header
	Code ErrorCode `json:"code"`
	Text string    `json:"text,omitempty"`
}

// NewBroadcast returns a broadcast body carrying one value.
func NewBroadcast(v int64) *BroadcastBody {
	return &BroadcastBody{
		Header:  NewHeader(KindBroadcast),
		Message: SingleValue(v),
	}
}

// NewBroadcastBatch returns a broadcast body carrying a batch of values.
func NewBroadcastBatch(vs []int64) *BroadcastBody {
	return &BroadcastBody{
		Header:  NewHeader(KindBroadcast),
		Message: ValueBatch(vs),
	}
}

// NewError returns an error body. The reply relation is stamped by
// Envelope.Reply.
func NewError(code ErrorCode, text string) *ErrorBody {
	return &ErrorBody{
		Header: NewHeader(KindError),
		Code:   code,
		Text:   text,
	}
}

// newBody returns a zero value of the variant for k, or nil when k is not a
// known kind. Every kind in the const block above must appear here; Decode
// goes through this switch and nowhere else.
func newBody(k Kind) Body {
	switch k {
	case KindInit:
		return &InitBody{}
	case KindInitOK:
		return &InitOKBody{}
	case KindEcho:
		return &EchoBody{}
	case KindEchoOK:
		return &EchoOKBody{}
	case KindGenerate:
		return &GenerateBody{}
	case KindGenerateOK:
		return &GenerateOKBody{}
	case KindTopology:
		return &TopologyBody{}
	case KindTopologyOK:
		return &TopologyOKBody{}
	case KindBroadcast:
		return &BroadcastBody{}
	case KindBroadcastOK:
		return &BroadcastOKBody{}
	case KindRead:
		return &ReadBody{}
	case KindReadOK:
		return &ReadOKBody{}
	case KindAdd:
		return &AddBody{}
	case KindAddOK:
		return &AddOKBody{}
	case KindWrite:
		return &WriteBody{}
	case KindWriteOK:
		return &WriteOKBody{}
	case KindCAS:
		return &CASBody{}
	case KindCASOK:
		return &CASOKBody{}
	case KindSend:
		return &SendBody{}
	case KindSendOK:
		return &SendOKBody{}
	case KindPoll:
		return &PollBody{}
	case KindPollOK:
		return &PollOKBody{}
	case KindCommitOffsets:
		return &CommitOffsetsBody{}
	case KindCommitOffsetsOK:
		return &CommitOffsetsOKBody{}
	case KindListCommittedOffsets:
		return &ListCommittedOffsetsBody{}
	case KindListCommittedOffsetsOK:
		return &ListCommittedOffsetsOKBody{}
	case KindError:
		return &ErrorBody{}
	}
	return nil
}
