// Package orchestrator holds the pure data types the master agent
// operates on: the host catalog it lists and connects to, and the
// severity-classified report it synthesises once its workers finish.
package orchestrator

import "fmt"

// HostKind identifies how connect_terminal should reach a Host.
type HostKind string

const (
	HostLocal HostKind = "local"
	HostSSH   HostKind = "ssh"
)

// Host is one entry the orchestrator's list_available_hosts tool can
// surface and its connect_terminal tool can open a session against.
type Host struct {
	ID       string
	Alias    string
	Kind     HostKind
	Address  string
	User     string
	KeyPath  string
	Password string
	Tags     []string
}

// Catalog is the static set of hosts the operator has configured. It is
// read-only at runtime — adding a host requires a config change; hosts are
// external, operator-managed infrastructure, not something the LLM invents.
type Catalog struct {
	hosts   []Host
	byID    map[string]*Host
	byAlias map[string]*Host
}

// NewCatalog builds a lookup-indexed catalog from configured hosts. A host
// missing an explicit kind defaults to ssh (the common multi-host case);
// the implicit local session the engine starts with is not part of this
// catalog — it is reached as the default terminal, not via connect_terminal.
func NewCatalog(hosts []Host) *Catalog {
	c := &Catalog{
		hosts:   make([]Host, 0, len(hosts)),
		byID:    make(map[string]*Host, len(hosts)),
		byAlias: make(map[string]*Host, len(hosts)),
	}
	for _, h := range hosts {
		if h.Kind == "" {
			h.Kind = HostSSH
		}
		c.hosts = append(c.hosts, h)
		stored := &c.hosts[len(c.hosts)-1]
		c.byID[h.ID] = stored
		if h.Alias != "" {
			c.byAlias[h.Alias] = stored
		}
	}
	return c
}

// List returns all configured hosts in configuration order.
func (c *Catalog) List() []Host {
	return append([]Host(nil), c.hosts...)
}

// Resolve looks a host up by id first, then alias.
func (c *Catalog) Resolve(idOrAlias string) (Host, error) {
	if h, ok := c.byID[idOrAlias]; ok {
		return *h, nil
	}
	if h, ok := c.byAlias[idOrAlias]; ok {
		return *h, nil
	}
	return Host{}, fmt.Errorf("no configured host %q; call list_available_hosts", idOrAlias)
}
