package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/notify"
	"github.com/christopherklint97/convene/internal/store"
)

// Friday 2026-10-16, 09:00 UTC.
var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

var (
	johnCarter = directory.Contact{ID: "c1", Name: "John Carter", Email: "john@example.com", Department: "Sales"}
	amitShah   = directory.Contact{ID: "c2", Name: "Amit Shah", Email: "amit.shah@example.com", Department: "Sales", Role: "Account Manager"}
	amitKumar  = directory.Contact{ID: "c3", Name: "Amit Kumar", Email: "amit.kumar@example.com", Department: "Tech", Role: "Engineer"}
	priyaRao   = directory.Contact{ID: "c4", Name: "Priya Rao", Email: "priya@example.com", Department: "Tech"}
	liWei      = directory.Contact{ID: "c5", Name: "Li Wei", Email: "li@example.com", Department: "Tech"}
)

type scriptedProvider struct {
	mu        sync.Mutex
	commands  map[string]*ai.Command
	failures  map[string]error
	decisions map[string]ai.Confirmation
	requests  []ai.ParseRequest
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		commands:  make(map[string]*ai.Command),
		failures:  make(map[string]error),
		decisions: make(map[string]ai.Confirmation),
	}
}

func (p *scriptedProvider) on(text string, cmd *ai.Command) {
	p.commands[text] = cmd
}

func (p *scriptedProvider) ParseCommand(_ context.Context, req ai.ParseRequest) (*ai.Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if err, ok := p.failures[req.Text]; ok {
		return nil, err
	}
	if cmd, ok := p.commands[req.Text]; ok {
		return cmd, nil
	}
	return &ai.Command{Intent: ai.IntentGeneralChat}, nil
}

func (p *scriptedProvider) ClassifyConfirmation(_ context.Context, text string) (ai.Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.decisions[text]; ok {
		return d, nil
	}
	return ai.Unclear, nil
}

func (p *scriptedProvider) parseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fakeDirectory struct {
	contacts []directory.Contact
	err      error
}

func (d *fakeDirectory) Resolve(_ context.Context, name, department string, _ directory.Scope) ([]directory.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	q := strings.ToLower(strings.TrimSpace(name))
	var out []directory.Contact
	for _, c := range d.contacts {
		full := strings.ToLower(c.Name)
		first := strings.Fields(full)[0]
		if full != q && first != q {
			continue
		}
		if department != "" && !strings.EqualFold(c.Department, department) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *fakeDirectory) DepartmentMembers(_ context.Context, department string, _ directory.Scope) ([]directory.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []directory.Contact
	for _, c := range d.contacts {
		if strings.EqualFold(c.Department, department) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) List(directory.Scope) ([]directory.Contact, error) {
	return d.contacts, d.err
}

func (d *fakeDirectory) Departments(directory.Scope) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, c := range d.contacts {
		if c.Department != "" && !seen[c.Department] {
			seen[c.Department] = true
			out = append(out, c.Department)
		}
	}
	return out, d.err
}

type fakeCalendar struct {
	mu         sync.Mutex
	slots      map[string][]time.Time
	findErr    error
	createErrs []error // consumed one per CreateEvent call
	created    []calendar.EventRequest
	onCreate   func()
}

func (c *fakeCalendar) FindAvailableSlots(_ context.Context, day time.Time, _ int, _ calendar.WorkingHours) ([]time.Time, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	return c.slots[day.Format("2006-01-02")], nil
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, req calendar.EventRequest) (calendar.Created, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.createErrs) > 0 {
		err := c.createErrs[0]
		c.createErrs = c.createErrs[1:]
		if err != nil {
			return calendar.Created{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return calendar.Created{}, err
	}
	c.created = append(c.created, req)
	if c.onCreate != nil {
		c.onCreate()
	}
	id := fmt.Sprintf("evt-%d", len(c.created))
	return calendar.Created{EventID: id, Link: "https://calendar.example.com/" + id}, nil
}

func (c *fakeCalendar) createdCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type fakeMeetings struct {
	mu       sync.Mutex
	saved    []store.Meeting
	existing []store.Meeting
	saveErr  error
}

func (m *fakeMeetings) SaveMeeting(ctx context.Context, mtg *store.Meeting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mtg.ID = fmt.Sprintf("mtg_%d", len(m.saved)+1)
	mtg.ThreadID = "thr_" + mtg.ID
	m.saved = append(m.saved, *mtg)
	return nil
}

func (m *fakeMeetings) FindMeeting(_ context.Context, _, ref string) (*store.Meeting, error) {
	for _, mtg := range m.existing {
		if mtg.ID == ref || strings.Contains(strings.ToLower(mtg.Title), strings.ToLower(ref)) {
			return &mtg, nil
		}
	}
	return nil, nil
}

func (m *fakeMeetings) UpcomingMeetings(_ context.Context, _ string, from time.Time, limit int) ([]store.Meeting, error) {
	var out []store.Meeting
	for _, mtg := range m.existing {
		if !mtg.Start.Before(from) && len(out) < limit {
			out = append(out, mtg)
		}
	}
	return out, nil
}

func (m *fakeMeetings) RecentMeetings(_ context.Context, _ string, limit int) ([]store.Meeting, error) {
	if len(m.existing) > limit {
		return m.existing[:limit], nil
	}
	return m.existing, nil
}

func (m *fakeMeetings) SearchMeetings(_ context.Context, _, query string, limit int) ([]store.Meeting, error) {
	var out []store.Meeting
	for _, mtg := range m.existing {
		if strings.Contains(strings.ToLower(mtg.Title), strings.ToLower(query)) && len(out) < limit {
			out = append(out, mtg)
		}
	}
	return out, nil
}

func (m *fakeMeetings) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type fakeNotifier struct {
	mu      sync.Mutex
	invites []notify.Invite
	err     error
}

func (n *fakeNotifier) Notify(ctx context.Context, invite notify.Invite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invites = append(n.invites, invite)
	return n.err
}

type harness struct {
	provider  *scriptedProvider
	directory *fakeDirectory
	calendar  *fakeCalendar
	meetings  *fakeMeetings
	notifier  *fakeNotifier
	ledger    *MemoryLedger
	engine    *Engine
	state     ConversationState
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		provider:  newScriptedProvider(),
		directory: &fakeDirectory{contacts: []directory.Contact{johnCarter, amitShah, amitKumar, priyaRao, liWei}},
		calendar:  &fakeCalendar{slots: map[string][]time.Time{}},
		meetings:  &fakeMeetings{},
		notifier:  &fakeNotifier{},
		ledger:    NewMemoryLedger(),
		state:     NewConversation("conv-1", "me"),
	}
	opts := DefaultOptions()
	opts.Location = time.UTC
	opts.Now = func() time.Time { return testNow }
	opts.CallTimeout = 5 * time.Second
	opts.Organizer = notify.Person{Name: "Organizer", Email: "me@example.com"}
	for _, fn := range configure {
		fn(&opts)
	}
	h.engine = New(Deps{
		Parser:    h.provider,
		Confirmer: ai.NewConfirmer(h.provider, nil),
		Directory: h.directory,
		Calendar:  h.calendar,
		Meetings:  h.meetings,
		Notifier:  h.notifier,
		Ledger:    h.ledger,
	}, opts, nil)
	return h
}

// say runs one turn and keeps the resulting state.
func (h *harness) say(t *testing.T, text string) Reply {
	t.Helper()
	reply, next := h.engine.Step(context.Background(), h.state, text)
	h.state = next
	return reply
}

func schedule(d ai.MeetingDetails) *ai.Command {
	return &ai.Command{Intent: ai.IntentSchedule, Meeting: d}
}

func person(name string) ai.Participant {
	return ai.Participant{Name: name}
}

func slotsAt(date string, clocks ...string) []time.Time {
	var out []time.Time
	for _, c := range clocks {
		t, err := time.Parse("2006-01-02 15:04", date+" "+c)
		if err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}

var errBoom = errors.New("boom")
