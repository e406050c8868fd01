package types

// EventType names a trace event kind.
type EventType string

const (
	EventMemoryWrite      EventType = "memory_write"
	EventMemoryRead       EventType = "memory_read"
	EventSkillSelected    EventType = "skill_selected"
	EventSkillApplied     EventType = "skill_applied"
	EventResponseEmitted  EventType = "response_emitted"
	EventDefenseTriggered EventType = "defense_triggered"
)

// TraceEvent is one entry in an episode's execution trace. The full ordered
// sequence for an episode is the sole input to failure attribution, so it
// must be complete and causally ordered: a read that influenced a response
// appears before that response event.
//
// Timestamp is a per-episode logical sequence number, not wall-clock time,
// so traces are bit-identical across replays of the same call sequence.
type TraceEvent struct {
	EpisodeID  string         `json:"episode_id"`
	TurnNumber int            `json:"turn_number"`
	EventType  EventType      `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// TraceLog accumulates TraceEvents for one episode. It is owned by the
// episode and shared by reference with the memory store, the skill router
// and the agent policy, which all emit into it. Not safe for concurrent
// use; turns within one episode are strictly sequential.
type TraceLog struct {
	episodeID string
	turn      int
	seq       int64
	events    []TraceEvent
}

// NewTraceLog creates an empty trace log for one episode.
func NewTraceLog(episodeID string) *TraceLog {
	return &TraceLog{episodeID: episodeID}
}

// EpisodeID returns the owning episode's id.
func (l *TraceLog) EpisodeID() string { return l.episodeID }

// SetTurn sets the turn number stamped on subsequently appended events.
func (l *TraceLog) SetTurn(turn int) { l.turn = turn }

// Append records an event with the current turn and the next sequence number.
func (l *TraceLog) Append(eventType EventType, details map[string]any) TraceEvent {
	ev := TraceEvent{
		EpisodeID:  l.episodeID,
		TurnNumber: l.turn,
		EventType:  eventType,
		Details:    details,
		Timestamp:  l.seq,
	}
	l.seq++
	l.events = append(l.events, ev)
	return ev
}

// Events returns the ordered event sequence. The returned slice is a copy;
// mutating it does not affect the log.
func (l *TraceLog) Events() []TraceEvent {
	out := make([]TraceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *TraceLog) Len() int { return len(l.events) }
