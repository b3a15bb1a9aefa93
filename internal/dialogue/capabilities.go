package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/notify"
	"github.com/christopherklint97/convene/internal/store"
)

type Parser interface {
	ParseCommand(ctx context.Context, req ai.ParseRequest) (*ai.Command, error)
}

type Confirmer interface {
	ClassifyConfirmation(ctx context.Context, text string) (ai.Confirmation, error)
}

type Directory interface {
	Resolve(ctx context.Context, name, department string, scope directory.Scope) ([]directory.Contact, error)
	DepartmentMembers(ctx context.Context, department string, scope directory.Scope) ([]directory.Contact, error)
	List(scope directory.Scope) ([]directory.Contact, error)
	Departments(scope directory.Scope) ([]string, error)
}

type Calendar interface {
	FindAvailableSlots(ctx context.Context, day time.Time, durationMinutes int, hours calendar.WorkingHours) ([]time.Time, error)
	CreateEvent(ctx context.Context, req calendar.EventRequest) (calendar.Created, error)
}

type MeetingStore interface {
	SaveMeeting(ctx context.Context, m *store.Meeting) error
	FindMeeting(ctx context.Context, userID, ref string) (*store.Meeting, error)
	UpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) ([]store.Meeting, error)
	RecentMeetings(ctx context.Context, userID string, limit int) ([]store.Meeting, error)
	SearchMeetings(ctx context.Context, userID, query string, limit int) ([]store.Meeting, error)
}

type Notifier interface {
	Notify(ctx context.Context, invite notify.Invite) error
}

// CommitLedger guards calendar writes so each confirmation books at most once.
type CommitLedger interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, eventID string) error
	Release(ctx context.Context, key string) error
	// Committed returns the event id booked under key, or "" when the key
	// is unknown or still reserved.
	Committed(ctx context.Context, key string) (string, error)
}

// MemoryLedger is a process-local CommitLedger.
type MemoryLedger struct {
	mu   sync.Mutex
	keys map[string]string // key -> event id, "" while reserved
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string]string)}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = ""
	return true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, key, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = eventID
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] == "" {
		delete(l.keys, key)
	}
	return nil
}

func (l *MemoryLedger) Committed(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[key], nil
}
