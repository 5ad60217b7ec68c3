package queryparams

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"nbisland/internal/protocol"
)

var ErrMissingKey = errors.New("query param key is required")

// Host receives the encoded query string after every change. It must not
// block.
type Host interface {
	ReplaceQuery(encoded string)
}

type HostFunc func(string)

func (f HostFunc) ReplaceQuery(encoded string) { f(encoded) }

// Synchronizer mirrors the kernel's view of the page query string.
type Synchronizer struct {
	mu     sync.Mutex
	values url.Values
	host   Host
}

func New(host Host) *Synchronizer {
	return &Synchronizer{values: url.Values{}, host: host}
}

// Seed replaces the current values without notifying the host, as when
// the page loads with a query string already present.
func (s *Synchronizer) Seed(raw string) error {
	parsed, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = parsed
	s.mu.Unlock()
	return nil
}

// Apply executes one operation and pushes the result to the host.
// Operations take effect in call order; the last write to a key wins.
func (s *Synchronizer) Apply(op protocol.QueryParams) error {
	key := strings.TrimSpace(op.Key)
	if key == "" && op.Action != protocol.QueryClear {
		return ErrMissingKey
	}
	s.mu.Lock()
	switch op.Action {
	case protocol.QueryAppend:
		s.values[key] = append(s.values[key], op.Values...)
	case protocol.QuerySet:
		if len(op.Values) == 0 {
			delete(s.values, key)
		} else {
			s.values[key] = slices.Clone(op.Values)
		}
	case protocol.QueryDelete:
		if len(op.Values) == 0 {
			delete(s.values, key)
			break
		}
		kept := slices.DeleteFunc(slices.Clone(s.values[key]), func(v string) bool {
			return slices.Contains(op.Values, v)
		})
		if len(kept) == 0 {
			delete(s.values, key)
		} else {
			s.values[key] = kept
		}
	case protocol.QueryClear:
		s.values = url.Values{}
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown query params action %q", op.Action)
	}
	encoded := s.values.Encode()
	s.mu.Unlock()

	if s.host != nil {
		s.host.ReplaceQuery(encoded)
	}
	return nil
}

// Values returns a copy of the current parameters.
func (s *Synchronizer) Values() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(url.Values, len(s.values))
	for k, v := range s.values {
		out[k] = slices.Clone(v)
	}
	return out
}

func (s *Synchronizer) Encode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Encode()
}
