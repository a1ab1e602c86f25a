package e2e

import (
	"sort"
	"sync"
)

// serviceState is the plain struct fixture observed over the wire. The
// tests never touch an exported instance directly; everything flows
// through the protocol so the engine's lock is the only synchronization
// needed.
type serviceState struct {
	Name     string
	Port     int
	Ratio    float64
	Debug    bool
	Secret   string
	Replicas []int
}

func newServiceState() *serviceState {
	return &serviceState{
		Name:     "cache",
		Port:     9042,
		Ratio:    0.5,
		Debug:    true,
		Secret:   "hunter2",
		Replicas: []int{3, 5},
	}
}

// counter is a mutex-guarded live value observed through the Record
// interface. The internal lock lets the tests mutate it while the
// server reads it.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) MemberNames() []string { return []string{"value"} }

func (c *counter) Member(name string) (any, bool) {
	if name != "value" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n, true
}

func (c *counter) SetMember(name string, value any) bool {
	if name != "value" {
		return false
	}
	n, ok := value.(int)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = n
	return true
}

func (c *counter) add(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// roster is a Record whose member set changes at runtime, for exercising
// the listing diff against a live container.
type roster struct {
	mu      sync.Mutex
	members map[string]string
}

func newRoster(members map[string]string) *roster {
	m := make(map[string]string, len(members))
	for k, v := range members {
		m[k] = v
	}
	return &roster{members: m}
}

func (r *roster) MemberNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *roster) Member(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.members[name]
	return v, ok
}

func (r *roster) SetMember(name string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[name] = s
	return true
}

func (r *roster) put(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[name] = value
}

func (r *roster) drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, name)
}

func contains(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
