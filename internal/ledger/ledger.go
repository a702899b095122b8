// Package ledger holds the per-conversation message status ledger: an
// in-memory mapping from client-generated temp ids to the message's
// current lifecycle state, plus the ordered visible sequence derived
// from it.
//
// The ledger is a pure reducer: Apply(state, event) returns a new
// state and never mutates the input. The two delivery paths settle
// independently and in either order, so every merge is idempotent and
// commutative over the same temp id.
package ledger

import (
	"sort"
	"time"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// EventType enumerates the inputs the reducer reacts to.
type EventType string

const (
	// EventLocalSend is the optimistic insert at compose-submit time.
	EventLocalSend EventType = "local_send"
	// EventBroadcastAck fires when the ephemeral publish returned
	// without error; transport-level delivery is inferred from it.
	EventBroadcastAck EventType = "broadcast_ack"
	// EventBroadcastRecv is a message payload arriving on the
	// conversation's broadcast channel.
	EventBroadcastRecv EventType = "broadcast_recv"
	// EventDurableAck fires when the durable insert succeeded and
	// returned the server-assigned row.
	EventDurableAck EventType = "durable_ack"
	// EventDurableRecv is a row arriving on the durable insert feed.
	EventDurableRecv EventType = "durable_recv"
	// EventDurableFail marks the entry failed after the durable
	// insert errored. Only the matching temp id is affected.
	EventDurableFail EventType = "durable_fail"
	// EventRetry re-enters sending from failed, reusing the temp id.
	EventRetry EventType = "retry"
	// EventHistory seeds the sequence with rows loaded from the
	// durable store on conversation open.
	EventHistory EventType = "history"
	// EventPeerRead advances the local user's own delivered messages
	// to read after the peer issued a read receipt.
	EventPeerRead EventType = "peer_read"
)

// Event is one reducer input. Msg carries the payload for message
// events; History carries the seed rows; ReadAt bounds a peer read
// receipt.
type Event struct {
	Type    EventType
	Msg     domain.Message
	History []domain.Message
	PeerID  string
	ReadAt  time.Time
}

// State is the reducer state. The zero value is unusable; construct
// with NewState so echo suppression knows the local user.
type State struct {
	localUserID string
	seq         []domain.Message
	index       map[string]int // tempID -> position in seq
}

// NewState returns an empty ledger owned by the given local user.
func NewState(localUserID string) State {
	return State{localUserID: localUserID, index: map[string]int{}}
}

// Messages returns the visible sequence ordered by CreatedAt
// ascending, ties broken by arrival order. The slice is a copy.
func (s State) Messages() []domain.Message {
	out := make([]domain.Message, len(s.seq))
	copy(out, s.seq)
	return out
}

// Get returns the entry for a temp id.
func (s State) Get(tempID string) (domain.Message, bool) {
	i, ok := s.index[tempID]
	if !ok {
		return domain.Message{}, false
	}
	return s.seq[i], true
}

// Len reports the number of visible entries.
func (s State) Len() int { return len(s.seq) }

func (s State) clone() State {
	out := State{
		localUserID: s.localUserID,
		seq:         make([]domain.Message, len(s.seq)),
		index:       make(map[string]int, len(s.index)),
	}
	copy(out.seq, s.seq)
	for k, v := range s.index {
		out.index[k] = v
	}
	return out
}

// Apply reduces one event into a new state. Unknown temp ids on
// ack/fail events are ignored: the entry was never inserted locally,
// so there is nothing to settle.
func Apply(s State, ev Event) State {
	switch ev.Type {
	case EventLocalSend:
		return s.applyLocalSend(ev.Msg)
	case EventBroadcastAck:
		return s.advance(ev.Msg.TempID, domain.StatusDelivered)
	case EventDurableAck:
		return s.mergeDurable(ev.Msg)
	case EventBroadcastRecv:
		return s.applyRecv(ev.Msg, false)
	case EventDurableRecv:
		return s.applyRecv(ev.Msg, true)
	case EventDurableFail:
		return s.fail(ev.Msg.TempID)
	case EventRetry:
		return s.retry(ev.Msg.TempID)
	case EventHistory:
		return s.applyHistory(ev.History)
	case EventPeerRead:
		return s.applyPeerRead(ev.PeerID, ev.ReadAt)
	}
	return s
}

func (s State) applyLocalSend(m domain.Message) State {
	if _, ok := s.index[m.TempID]; ok {
		// Duplicate submit with the same temp id: keep the first.
		return s
	}
	out := s.clone()
	m.Status = domain.StatusSending
	m.IsEphemeral = true
	out.insert(m)
	return out
}

// advance moves an entry's status forward, never backward.
func (s State) advance(tempID string, to domain.Status) State {
	i, ok := s.index[tempID]
	if !ok {
		return s
	}
	cur := s.seq[i]
	if cur.Status == domain.StatusFailed {
		// A settled failure is terminal until an explicit retry.
		return s
	}
	next := cur.Status.Max(to)
	if next == cur.Status {
		return s
	}
	out := s.clone()
	out.seq[i].Status = next
	return out
}

// mergeDurable folds the store-acknowledged row into the existing
// optimistic entry: server id and timestamp win, ephemeral clears,
// status reaches at least sent.
func (s State) mergeDurable(m domain.Message) State {
	i, ok := s.index[m.TempID]
	if !ok {
		return s
	}
	out := s.clone()
	e := &out.seq[i]
	if m.ID != "" {
		e.ID = m.ID
	}
	if !m.CreatedAt.IsZero() {
		e.CreatedAt = m.CreatedAt
	}
	if e.TranslatedText == "" {
		e.TranslatedText = m.TranslatedText
	}
	e.IsEphemeral = false
	if e.Status != domain.StatusFailed {
		e.Status = e.Status.Max(domain.StatusSent)
	}
	out.resort()
	return out
}

// applyRecv handles payloads arriving from either feed. An existing
// temp id always merges in place; the local user's own echoes never
// append a second entry.
func (s State) applyRecv(m domain.Message, durable bool) State {
	if i, ok := s.index[m.TempID]; ok {
		out := s.clone()
		e := &out.seq[i]
		if m.ID != "" {
			e.ID = m.ID
		}
		if durable && !m.CreatedAt.IsZero() {
			e.CreatedAt = m.CreatedAt
		}
		if e.TranslatedText == "" {
			e.TranslatedText = m.TranslatedText
		}
		if durable {
			e.IsEphemeral = false
		}
		if e.SenderID == s.localUserID && e.Status != domain.StatusFailed {
			e.Status = e.Status.Max(domain.StatusSent)
		}
		out.resort()
		return out
	}
	if m.SenderID == s.localUserID {
		// Own echo for an entry we no longer track; the optimistic
		// path owns local message display.
		return s
	}
	out := s.clone()
	m.Status = domain.StatusDelivered
	m.IsEphemeral = !durable
	out.insert(m)
	return out
}

func (s State) fail(tempID string) State {
	i, ok := s.index[tempID]
	if !ok {
		return s
	}
	out := s.clone()
	out.seq[i].Status = domain.StatusFailed
	return out
}

func (s State) retry(tempID string) State {
	i, ok := s.index[tempID]
	if !ok || s.seq[i].Status != domain.StatusFailed {
		return s
	}
	out := s.clone()
	out.seq[i].Status = domain.StatusSending
	out.seq[i].IsEphemeral = true
	return out
}

func (s State) applyHistory(rows []domain.Message) State {
	if len(rows) == 0 {
		return s
	}
	out := s.clone()
	for _, m := range rows {
		if m.TempID == "" {
			// Rows written by clients that predate temp ids key on
			// the durable id instead.
			m.TempID = m.ID
		}
		if i, ok := out.index[m.TempID]; ok {
			e := &out.seq[i]
			if m.ID != "" {
				e.ID = m.ID
			}
			e.IsEphemeral = false
			continue
		}
		m.Status = domain.StatusDelivered
		m.IsEphemeral = false
		out.insert(m)
	}
	out.resort()
	return out
}

func (s State) applyPeerRead(peerID string, readAt time.Time) State {
	out := s.clone()
	changed := false
	for i := range out.seq {
		e := &out.seq[i]
		if e.SenderID != out.localUserID || e.Status == domain.StatusFailed {
			continue
		}
		if !readAt.IsZero() && e.CreatedAt.After(readAt) {
			continue
		}
		next := e.Status.Max(domain.StatusRead)
		if next != e.Status {
			e.Status = next
			changed = true
		}
	}
	if !changed {
		return s
	}
	return out
}

// insert places m keeping CreatedAt-ascending order with arrival-order
// tie break, then rebuilds the index.
func (st *State) insert(m domain.Message) {
	pos := len(st.seq)
	for i := range st.seq {
		if st.seq[i].CreatedAt.After(m.CreatedAt) {
			pos = i
			break
		}
	}
	st.seq = append(st.seq, domain.Message{})
	copy(st.seq[pos+1:], st.seq[pos:])
	st.seq[pos] = m
	st.reindex()
}

// resort restores ordering after a merge moved an entry's CreatedAt.
// SliceStable keeps arrival order for equal timestamps.
func (st *State) resort() {
	sort.SliceStable(st.seq, func(i, j int) bool {
		return st.seq[i].CreatedAt.Before(st.seq[j].CreatedAt)
	})
	st.reindex()
}

func (st *State) reindex() {
	for k := range st.index {
		delete(st.index, k)
	}
	for i, m := range st.seq {
		st.index[m.TempID] = i
	}
}
