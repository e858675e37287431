package seriallink

import (
	"fmt"

	"go.bug.st/serial/enumerator"

	"github.com/patelrital/Blink-Detector/internal/session"
)

// Enumerator lists the names of the available serial endpoints.
type Enumerator func() ([]string, error)

// Prompter is the operator-facing collaborator for endpoint selection.
// Implementations may be console-based, GUI-based, or scripted; calls block
// until the operator responds.
type Prompter interface {
	// SelectEndpoint presents the enumerated endpoint names and returns the
	// chosen index.
	SelectEndpoint(names []string) (int, error)

	// ConfirmEndpoint asks the operator to confirm the chosen endpoint.
	ConfirmEndpoint(name string) (bool, error)
}

func defaultEnumerator() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ports))
	for _, port := range ports {
		names = append(names, port.Name)
	}
	return names, nil
}

// SelectEndpoint resolves the endpoint to use. A cached endpoint is reused
// without prompting when enumeration still reports it; otherwise the operator
// picks from the enumerated set and the confirmed choice is cached.
func (l *Link) SelectEndpoint() (session.Endpoint, error) {
	names, err := l.enumerate()
	if err != nil {
		return session.Endpoint{}, fmt.Errorf("enumerating serial endpoints: %w", err)
	}
	if len(names) == 0 {
		return session.Endpoint{}, ErrNoEndpointsFound
	}

	if ep, ok := l.session.Endpoint(); ok {
		for _, name := range names {
			if name == ep.Name {
				l.log.Debug("reusing cached endpoint", "endpoint", ep.Name)
				return ep, nil
			}
		}
		// Cached endpoint disappeared from the enumeration.
		l.session.ClearEndpoint()
	}

	for {
		idx, err := l.prompter.SelectEndpoint(names)
		if err != nil {
			return session.Endpoint{}, fmt.Errorf("endpoint selection: %w", err)
		}
		if idx < 0 || idx >= len(names) {
			continue
		}
		ok, err := l.prompter.ConfirmEndpoint(names[idx])
		if err != nil {
			return session.Endpoint{}, fmt.Errorf("endpoint confirmation: %w", err)
		}
		if !ok {
			continue
		}
		ep := session.Endpoint{Name: names[idx], BaudRate: l.cfg.BaudRate}
		l.session.SetEndpoint(ep)
		l.log.Info("endpoint confirmed", "endpoint", ep.Name, "baud", ep.BaudRate)
		return ep, nil
	}
}
