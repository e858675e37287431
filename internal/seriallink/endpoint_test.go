package seriallink

import (
	"errors"
	"testing"

	"github.com/patelrital/Blink-Detector/internal/session"
)

// scriptPrompter answers selection prompts from a fixed script and records
// how often it was consulted.
type scriptPrompter struct {
	index    int
	confirms []bool
	selects  int
	asked    int
}

func (p *scriptPrompter) SelectEndpoint(names []string) (int, error) {
	p.selects++
	return p.index, nil
}

func (p *scriptPrompter) ConfirmEndpoint(name string) (bool, error) {
	ok := true
	if p.asked < len(p.confirms) {
		ok = p.confirms[p.asked]
	}
	p.asked++
	return ok, nil
}

func newSelectionLink(store *session.Store, prompter Prompter, names []string, enumErr error) *Link {
	enumerate := func() ([]string, error) { return names, enumErr }
	open := func(name string, baud int) (Port, error) { return newFakePort(nil), nil }
	return NewWithTransport(store, prompter, testLogger(), fastConfig(), enumerate, open)
}

func TestSelectEndpoint_empty_enumeration(t *testing.T) {
	l := newSelectionLink(session.NewStore(), &scriptPrompter{}, nil, nil)

	_, err := l.SelectEndpoint()
	if !errors.Is(err, ErrNoEndpointsFound) {
		t.Errorf("expected ErrNoEndpointsFound, got %v", err)
	}
}

func TestSelectEndpoint_enumeration_error(t *testing.T) {
	boom := errors.New("usb subsystem down")
	l := newSelectionLink(session.NewStore(), &scriptPrompter{}, nil, boom)

	_, err := l.SelectEndpoint()
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped enumeration error, got %v", err)
	}
}

func TestSelectEndpoint_reuses_cached(t *testing.T) {
	store := session.NewStore()
	store.SetEndpoint(session.Endpoint{Name: "/dev/ttyACM1", BaudRate: 115200})
	l := newSelectionLink(store, fatalPrompter{t}, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, nil)

	ep, err := l.SelectEndpoint()
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if ep.Name != "/dev/ttyACM1" {
		t.Errorf("endpoint = %s, want cached /dev/ttyACM1", ep.Name)
	}
}

func TestSelectEndpoint_prompts_and_caches(t *testing.T) {
	store := session.NewStore()
	p := &scriptPrompter{index: 1}
	l := newSelectionLink(store, p, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, nil)

	ep, err := l.SelectEndpoint()
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if ep.Name != "/dev/ttyACM1" {
		t.Errorf("endpoint = %s, want /dev/ttyACM1", ep.Name)
	}
	if cached, ok := store.Endpoint(); !ok || cached.Name != "/dev/ttyACM1" {
		t.Errorf("confirmed endpoint should be cached, got %+v, %v", cached, ok)
	}
}

func TestSelectEndpoint_declined_confirmation_reprompts(t *testing.T) {
	p := &scriptPrompter{index: 0, confirms: []bool{false, true}}
	l := newSelectionLink(session.NewStore(), p, []string{"/dev/ttyACM0"}, nil)

	if _, err := l.SelectEndpoint(); err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if p.selects != 2 {
		t.Errorf("selection should be presented again after a declined confirmation, selects = %d", p.selects)
	}
}

func TestSelectEndpoint_stale_cache_cleared(t *testing.T) {
	store := session.NewStore()
	store.SetEndpoint(session.Endpoint{Name: "/dev/gone", BaudRate: 115200})
	p := &scriptPrompter{index: 0}
	l := newSelectionLink(store, p, []string{"/dev/ttyACM0"}, nil)

	ep, err := l.SelectEndpoint()
	if err != nil {
		t.Fatalf("SelectEndpoint: %v", err)
	}
	if ep.Name != "/dev/ttyACM0" {
		t.Errorf("endpoint = %s, want freshly selected /dev/ttyACM0", ep.Name)
	}
	if p.selects != 1 {
		t.Errorf("prompter should have been consulted once, got %d", p.selects)
	}
}

func TestOpen_cached_endpoint_unopenable_retries_once(t *testing.T) {
	store := session.NewStore()
	store.SetEndpoint(session.Endpoint{Name: "/dev/dead", BaudRate: 115200})
	p := &scriptPrompter{index: 1}

	opens := map[string]int{}
	open := func(name string, baud int) (Port, error) {
		opens[name]++
		if name == "/dev/dead" {
			return nil, errors.New("EBUSY")
		}
		return newFakePort(nil), nil
	}
	enumerate := func() ([]string, error) { return []string{"/dev/dead", "/dev/ttyACM0"}, nil }
	l := NewWithTransport(store, p, testLogger(), fastConfig(), enumerate, open)

	if err := l.Open(); err != nil {
		t.Fatalf("Open should succeed via the automatic retry, got %v", err)
	}
	defer l.Close()

	if !l.Connected() {
		t.Fatal("link should be open")
	}
	if opens["/dev/ttyACM0"] == 0 {
		t.Error("retry should have opened the freshly selected endpoint")
	}
	if cached, ok := store.Endpoint(); !ok || cached.Name != "/dev/ttyACM0" {
		t.Errorf("cache should hold the new endpoint, got %+v, %v", cached, ok)
	}
}
