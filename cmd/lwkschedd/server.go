package main

import (
	"encoding/gob"
	"io"
	"net"
	"os/user"

	"inet.af/peercred"

	"github.com/lwkcore/core/internal/config"
	"github.com/lwkcore/core/internal/wire"
)

// Server handles one client connection, mirroring the teacher
// daemon's per-connection Server: requests are decoded and handled one
// at a time in a loop until the connection closes.
type Server struct {
	c    net.Conn
	d    *Daemon
	user string
}

func NewServer(c net.Conn, d *Daemon) *Server {
	return &Server{c: c, d: d}
}

func (s *Server) Serve() {
	defer s.c.Close()

	cred, err := peercred.Get(s.c)
	if err != nil {
		s.d.log.Error(err, "reading peer credentials")
		return
	}
	s.user = "???"
	if uid, ok := cred.UserID(); ok {
		if u, err := user.LookupId(uid); err == nil {
			s.user = u.Username
		}
	}

	dec := gob.NewDecoder(s.c)
	enc := gob.NewEncoder(s.c)
	for {
		var req wire.Request
		if err := dec.Decode(&req); err != nil {
			if err != io.EOF {
				s.d.log.Error(err, "decoding client request", "user", s.user)
			}
			return
		}
		resp := s.dispatch(req)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			s.d.log.Error(err, "encoding response", "user", s.user)
			return
		}
	}
}

func (s *Server) dispatch(req wire.Request) interface{} {
	switch action := req.Action.(type) {
	case wire.ActionSetCloneAttr:
		result, err := s.d.SetCloneAttr(action.PID, action.Attr)
		resp := wire.ActionSetCloneAttrResponse{Result: result}
		if err != nil {
			resp.Err = err.Error()
		}
		return resp

	case wire.ActionYield:
		return wire.ActionYieldResponse{Rescheduled: s.d.Yield(action.PID, action.CPU)}

	case wire.ActionConfigSet:
		resp := wire.ActionConfigSetResponse{}
		if err := s.d.ApplyConfig(action.PID, action.YAML); err != nil {
			resp.Err = err.Error()
		}
		return resp

	case wire.ActionConfigGet:
		return s.handleConfigGet(action.PID)

	case wire.ActionRegisterProcess:
		rec := s.d.RegisterProcess(action.PID, action.LWKCPUs, action.SharedUtil)
		return wire.ActionRegisterProcessResponse{Summary: wire.ProcessSummary{
			PID:     rec.PID,
			LWKCPUs: rec.LWKCPUSet.List(),
			NumUtil: rec.Policy.NumUtilThreads,
		}}

	case wire.ActionFork:
		resp := wire.ActionForkResponse{}
		if _, err := s.d.Fork(action.CallerPID, action.ChildPID, action.SameThreadGroup); err != nil {
			resp.Err = err.Error()
		}
		return resp

	case wire.ActionList:
		return s.handleList()

	case wire.ActionStats:
		return s.handleStats(action.CPU)

	default:
		s.d.log.Info("unrecognised action from client", "user", s.user, "type", req.Action)
		return nil
	}
}

func (s *Server) handleList() wire.ActionListResponse {
	var out wire.ActionListResponse
	for _, rec := range s.d.Processes() {
		out.Processes = append(out.Processes, wire.ProcessSummary{
			PID:     rec.PID,
			LWKCPUs: rec.LWKCPUSet.List(),
			NumUtil: rec.Policy.NumUtilThreads,
		})
	}
	return out
}

// handleConfigGet renders the effective policy for pid (or the
// daemon-wide default when pid is 0 or unregistered) back as YAML,
// the inverse of ApplyConfig.
func (s *Server) handleConfigGet(pid int) wire.ActionConfigGetResponse {
	pol := s.d.defaultPolicy
	if pid != 0 {
		if rec, ok := s.d.Process(pid); ok {
			pol = rec.Policy
		}
	}
	out, err := config.Render(pol, s.d.tickMS)
	if err != nil {
		return wire.ActionConfigGetResponse{Err: err.Error()}
	}
	return wire.ActionConfigGetResponse{YAML: out}
}

func (s *Server) handleStats(cpu int) wire.ActionStatsResponse {
	var out wire.ActionStatsResponse
	ids := s.d.facts.All()
	for _, id := range ids {
		if cpu >= 0 && int(id) != cpu {
			continue
		}
		c, u := s.d.commits.ReadCommits(int(id))
		st := s.d.stats.CPU(int(id))
		snap := wire.CPUStatsSnapshot{CPU: int(id), ComputeCommits: c, UtilityCommits: u}
		if st != nil {
			snap.MaxComputeDepth = st.MaxComputeDepth.Load()
			snap.MaxUtilityDepth = st.MaxUtilityDepth.Load()
			snap.PushCount = st.PushCount.Load()
			snap.SetaffinityCount = st.SetaffinityCount.Load()
			snap.TimerTicks = st.TimerTicks.Load()
			snap.Guests = st.Guests.Load()
			snap.GuestDispatches = st.GuestDispatches.Load()
			snap.Givebacks = st.Givebacks.Load()
		}
		out.CPUs = append(out.CPUs, snap)
	}
	return out
}
