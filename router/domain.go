package router

import (
	"sync"
	"sync/atomic"
)

// ServiceInstance is one registered worker for a ServiceEntry: the bus
// address it listens on.
type ServiceInstance struct {
	Address string
}

// ServiceEntry tracks every registered instance of one service name within
// a single Routerdomain, plus the round-robin cursor used to spread
// requests across them
type ServiceEntry struct {
	Name string

	mu        sync.Mutex
	instances []ServiceInstance
	next      int

	// routeCount counts every API call routed to one of this service's
	// instances, across all of them. Published as the route_count metric.
	routeCount atomic.Int64
}

func newServiceEntry(name string) *ServiceEntry {
	return &ServiceEntry{Name: name}
}

// add appends address as a new instance unless it is already registered.
// Reports whether an instance was added, satisfying registration
// idempotence: two registers of the same address produce one instance.
func (se *ServiceEntry) add(address string) bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	for _, inst := range se.instances {
		if inst.Address == address {
			return false
		}
	}
	se.instances = append(se.instances, ServiceInstance{Address: address})
	return true
}

// remove drops the instance at address, reporting whether the entry is now
// empty (the caller drops it from its Routerdomain in that case).
func (se *ServiceEntry) remove(address string) (empty bool) {
	se.mu.Lock()
	defer se.mu.Unlock()
	for i, inst := range se.instances {
		if inst.Address == address {
			se.instances = append(se.instances[:i], se.instances[i+1:]...)
			break
		}
	}
	if se.next >= len(se.instances) {
		se.next = 0
	}
	return len(se.instances) == 0
}

// pick returns the next instance in round-robin order, reporting false if
// the entry has no instances. Given instances [A,B,C] with no intervening
// registration changes, k consecutive calls yield A,B,C,A,B,C,… in order.
func (se *ServiceEntry) pick() (ServiceInstance, bool) {
	se.mu.Lock()
	defer se.mu.Unlock()
	if len(se.instances) == 0 {
		return ServiceInstance{}, false
	}
	inst := se.instances[se.next%len(se.instances)]
	se.next++
	se.routeCount.Add(1)
	return inst, true
}

func (se *ServiceEntry) size() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	return len(se.instances)
}

// routeCounter returns the running total of calls routed to this service.
func (se *ServiceEntry) routeCounter() int64 {
	return se.routeCount.Load()
}

// Routerdomain is the registration table for every service known to the
// router on one bus domain — the primary domain the router itself listens
// on, or a remote domain reached only when no primary instance is
// available
type Routerdomain struct {
	Domain string

	mu    sync.Mutex
	order []string // service names in registration order, for classList and summarize
	table map[string]*ServiceEntry

	// routeCount counts every API call routed to any service on this
	// domain, mirroring ServiceEntry's own per-service counter at the
	// domain level.
	routeCount atomic.Int64
}

func newRouterdomain(domain string) *Routerdomain {
	return &Routerdomain{Domain: domain, table: make(map[string]*ServiceEntry)}
}

// findOrCreate returns the ServiceEntry for service, creating it (and
// recording registration order) on first use.
func (rd *Routerdomain) findOrCreate(service string) *ServiceEntry {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	se, ok := rd.table[service]
	if !ok {
		se = newServiceEntry(service)
		rd.table[service] = se
		rd.order = append(rd.order, service)
	}
	return se
}

// find returns the ServiceEntry for service without creating it.
func (rd *Routerdomain) find(service string) (*ServiceEntry, bool) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	se, ok := rd.table[service]
	return se, ok
}

// recordRoute increments this domain's aggregate route_count. Called by the
// router once per successfully routed API call, alongside the per-service
// counter ServiceEntry.pick already bumped.
func (rd *Routerdomain) recordRoute() {
	rd.routeCount.Add(1)
}

// routeCounter returns the running total of calls routed to any service on
// this domain.
func (rd *Routerdomain) routeCounter() int64 {
	return rd.routeCount.Load()
}

// dropIfEmpty removes service's entry if it has no instances left,
// reporting whether the Routerdomain itself is now empty of any service.
func (rd *Routerdomain) dropIfEmpty(service string) (domainEmpty bool) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if se, ok := rd.table[service]; ok && se.size() == 0 {
		delete(rd.table, service)
		for i, name := range rd.order {
			if name == service {
				rd.order = append(rd.order[:i], rd.order[i+1:]...)
				break
			}
		}
	}
	return len(rd.table) == 0
}

// classList returns the registered service names, in registration order.
func (rd *Routerdomain) classList() []string {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	out := make([]string, len(rd.order))
	copy(out, rd.order)
	return out
}

// serviceSummary describes one ServiceEntry for opensrf.router.info.summarize,
// mirroring spec.md's ServiceEntry shape (name, instances, route_count).
type serviceSummary struct {
	Name       string   `json:"name"`
	Instances  []string `json:"instances"`
	RouteCount int64    `json:"route_count"`
}

// domainSummary describes one Routerdomain for opensrf.router.info.summarize,
// mirroring spec.md's Routerdomain shape (domain, services, route_count).
type domainSummary struct {
	Domain     string           `json:"domain"`
	Services   []serviceSummary `json:"services"`
	RouteCount int64            `json:"route_count"`
}

func (rd *Routerdomain) summarize() domainSummary {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	services := make([]serviceSummary, 0, len(rd.table))
	for _, name := range rd.order {
		se := rd.table[name]
		se.mu.Lock()
		addrs := make([]string, len(se.instances))
		for i, inst := range se.instances {
			addrs[i] = inst.Address
		}
		se.mu.Unlock()
		services = append(services, serviceSummary{
			Name:       name,
			Instances:  addrs,
			RouteCount: se.routeCounter(),
		})
	}
	return domainSummary{Domain: rd.Domain, Services: services, RouteCount: rd.routeCounter()}
}
