package fleet

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// fleetView is the scheduler's picture of the server pool, loaded once per
// scheduling run and discarded afterwards.
type fleetView struct {
	servers         []*Server
	newServersAdded bool
}

func loadFleetView(ctx context.Context, store Store) (*fleetView, error) {
	servers, err := store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	slices.SortFunc(servers, func(a, b *Server) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return &fleetView{servers: servers}, nil
}

func (v *fleetView) reservedFor(job JobID) *Server {
	for _, s := range v.servers {
		if s.IsReservedFor(job) {
			return s
		}
	}
	return nil
}

// bestExternal returns the running unreserved external server with the
// highest priority, preferring the lowest ID among equals.
func (v *fleetView) bestExternal() *Server {
	var best *Server
	for _, s := range v.servers {
		if s.Kind != External || s.Status != Running || s.Reserved() {
			continue
		}
		if best == nil || s.Priority > best.Priority {
			best = s
		}
	}
	return best
}

// idleControlled returns a running controlled server no job holds.
func (v *fleetView) idleControlled() *Server {
	for _, s := range v.servers {
		if s.Kind == Controlled && s.Status == Running && !s.Reserved() {
			return s
		}
	}
	return nil
}

// resumable returns a stopped controlled server, preferring one that does
// not need provisioning again once it is running.
func (v *fleetView) resumable() *Server {
	var fallback *Server
	for _, s := range v.servers {
		if s.Kind != Controlled || s.Status != Stopped || s.Reserved() {
			continue
		}
		if s.ProvisionedFully {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}

func (v *fleetView) controlledCount() (n int) {
	for _, s := range v.servers {
		if s.Kind == Controlled {
			n++
		}
	}
	return n
}

func (v *fleetView) replace(server *Server) {
	for i, s := range v.servers {
		if s.ID == server.ID {
			v.servers[i] = server
			return
		}
	}
	v.servers = append(v.servers, server)
}

func (v *fleetView) add(server *Server) {
	v.servers = append(v.servers, server)
	v.newServersAdded = true
}
