package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l7mp/rete/pkg/config"
	"github.com/l7mp/rete/pkg/rete"
	"github.com/l7mp/rete/pkg/tuple"
	"github.com/l7mp/rete/pkg/util"
	"github.com/l7mp/rete/pkg/visualize"
)

// NodeResponse describes a node.
type NodeResponse struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Width       int      `json:"width"`
	Group       int      `json:"group"`
	Parents     []string `json:"parents,omitempty"`
	Children    []string `json:"children,omitempty"`
	FallThrough bool     `json:"fallThrough"`
	Pending     int      `json:"pending"`
	Stateful    bool     `json:"stateful"`
	Size        int      `json:"size"`
	Detail      string   `json:"detail,omitempty"`
}

// GroupResponse describes a communication group.
type GroupResponse struct {
	Rank           int      `json:"rank"`
	Kind           string   `json:"kind"`
	Representative string   `json:"representative"`
	Members        []string `json:"members"`
	Enqueued       bool     `json:"enqueued"`
	Pending        int      `json:"pending"`
}

// StatsResponse holds the network counters.
type StatsResponse struct {
	Name                string `json:"name"`
	ID                  string `json:"id"`
	Timely              bool   `json:"timely"`
	Batches             int    `json:"batches"`
	Deliveries          int    `json:"deliveries"`
	FallThrough         int    `json:"fallThrough"`
	GroupRecomputations int    `json:"groupRecomputations"`
	DelayedCommands     int    `json:"delayedCommands"`
}

// TupleResponse is a tuple with the earliest timestamp it is present at.
type TupleResponse struct {
	Tuple     []any `json:"tuple"`
	Timestamp int64 `json:"timestamp"`
}

// ContentsResponse is the current output of a node.
type ContentsResponse struct {
	Node   string          `json:"node"`
	Tuples []TupleResponse `json:"tuples"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps network errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rete.ErrUnknownNode):
		status = http.StatusNotFound
	case errors.Is(err, config.ErrInvalidSpec), errors.Is(err, rete.ErrMisuse):
		status = http.StatusBadRequest
	case errors.Is(err, rete.ErrInconsistent):
		status = http.StatusConflict
	case errors.Is(err, rete.ErrNetworkFailed), errors.Is(err, rete.ErrCoordinatorStopped):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	var failed error
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		failed = net.Err()
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	if failed != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed", "error": failed.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats handles GET /api/stats.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		st := net.Stats()
		resp = StatsResponse{
			Name:                net.Name(),
			ID:                  net.ID(),
			Timely:              net.IsTimely(),
			Batches:             st.Batches,
			Deliveries:          st.Deliveries,
			FallThrough:         st.FallThrough,
			GroupRecomputations: st.GroupRecomputations,
			DelayedCommands:     st.DelayedCommands,
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListGroups handles GET /api/groups.
func (s *Server) ListGroups(w http.ResponseWriter, r *http.Request) {
	resp := []GroupResponse{}
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		for _, g := range net.Groups() {
			resp = append(resp, GroupResponse{
				Rank:           g.Rank,
				Kind:           g.Kind.String(),
				Representative: g.Representative,
				Members:        g.Members,
				Enqueued:       g.Enqueued,
				Pending:        g.Pending,
			})
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func nodeResponse(info rete.NodeInfo) NodeResponse {
	return NodeResponse{
		Name:        info.Name,
		Kind:        info.Kind.String(),
		Width:       info.Width,
		Group:       info.Group,
		Parents:     info.Parents,
		Children:    info.Children,
		FallThrough: info.FallThrough,
		Pending:     info.Pending,
		Stateful:    info.Stateful,
		Size:        info.Size,
		Detail:      info.Detail,
	}
}

// ListNodes handles GET /api/nodes.
func (s *Server) ListNodes(w http.ResponseWriter, r *http.Request) {
	resp := []NodeResponse{}
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		for _, n := range net.Nodes() {
			info, err := net.Info(n.ID())
			if err != nil {
				return err
			}
			resp = append(resp, nodeResponse(info))
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func lookup(net *rete.Network, name string) (rete.NodeID, error) {
	id, ok := net.Lookup(name)
	if !ok {
		return rete.NoNode, fmt.Errorf("%w: %s", rete.ErrUnknownNode, name)
	}
	return id, nil
}

// GetNode handles GET /api/nodes/{name}.
func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var resp NodeResponse
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		id, err := lookup(net, name)
		if err != nil {
			return err
		}
		info, err := net.Info(id)
		if err != nil {
			return err
		}
		resp = nodeResponse(info)
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetContents handles GET /api/nodes/{name}/contents.
func (s *Server) GetContents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	resp := ContentsResponse{Node: name, Tuples: []TupleResponse{}}
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		id, err := lookup(net, name)
		if err != nil {
			return err
		}
		collector := map[string]tuple.Stamped{}
		if err := net.PullIntoWithTimestamp(id, collector, false); err != nil {
			return err
		}
		for _, k := range util.SortedKeys(collector) {
			st := collector[k]
			resp.Tuples = append(resp.Tuples, TupleResponse{
				Tuple:     st.Tuple.Values(),
				Timestamp: int64(st.Timestamp),
			})
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeliveries handles GET /api/deliveries.
func (s *Server) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	var resp []string
	if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
		resp = net.RecentDeliveries()
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostChanges handles POST /api/changes. The body is a change batch, which is applied and then
// flushed. A batch with an inconsistent change is rejected as a whole.
func (s *Server) PostChanges(w http.ResponseWriter, r *http.Request) {
	var batch config.BatchSpec
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var changes rete.Batch
	if err := s.coord.Do(r.Context(), func(net *rete.Network) (err error) {
		changes, err = config.Changes(net, batch)
		return err
	}); err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.Submit(r.Context(), changes); err != nil {
		writeError(w, err)
		return
	}
	s.log.V(1).Info("batch applied", "name", batch.Name, "changes", len(batch.Changes))
	writeJSON(w, http.StatusOK, map[string]int{"applied": len(batch.Changes)})
}

// GetGraph returns a handler that renders the network structure in the given format.
func (s *Server) GetGraph(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gen, err := visualize.NewGenerator(format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var g *visualize.Graph
		if err := s.coord.Do(r.Context(), func(net *rete.Network) error {
			g, err = visualize.BuildGraph(net)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(gen.Generate(g)))
	}
}
