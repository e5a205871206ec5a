// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

package village

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamlet-works/hamlet/lib/clock"
	"github.com/hamlet-works/hamlet/lib/names"
	"github.com/hamlet-works/hamlet/lib/profile"
)

// toolCallMilestones are the lifetime tool-call counts that earn an
// achievement broadcast. Crossings are detected from the before/after
// totals of each increment, so each fires exactly once per agent.
var toolCallMilestones = []int{100, 500, 1000, 2500, 5000, 10000}

// Heartbeat is the ingestion payload posted by agent-side hooks.
// Activity is a pointer so "no activity reported" (field absent) is
// distinguishable from "idle": an absent activity must not move the
// dwarf or mint work.
type Heartbeat struct {
	Agent       string  `json:"agent"`
	ParentAgent string  `json:"parentAgent,omitempty"`
	Project     string  `json:"project,omitempty"`
	Activity    *string `json:"activity,omitempty"`
	Detail      string  `json:"detail,omitempty"`
	InputBytes  int64   `json:"inputBytes,omitempty"`
	OutputBytes int64   `json:"outputBytes,omitempty"`
	Waiting     *bool   `json:"waiting,omitempty"`
	Busy        *bool   `json:"busy,omitempty"`

	// NewSpawn marks the first heartbeat of a restarted agent process.
	// When the identifier is already live it counts a fresh session
	// instead of spawning a duplicate resident.
	NewSpawn bool `json:"newSpawn,omitempty"`
}

// RawEvent is the direct-event ingestion payload: lifecycle signals
// emitted by orchestrators that know more than the heartbeat hooks do.
type RawEvent struct {
	Type     string `json:"type"`
	AgentID  string `json:"agentId"`
	Name     string `json:"name,omitempty"`
	Activity string `json:"activity,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// LiveSession is the in-memory state of one currently-present agent.
type LiveSession struct {
	AgentID          string    `json:"agentId"`
	Name             string    `json:"name"`
	Role             string    `json:"role,omitempty"`
	ParentID         string    `json:"parentId,omitempty"`
	Project          string    `json:"project,omitempty"`
	Activity         string    `json:"activity,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	Waiting          bool      `json:"waiting"`
	Busy             bool      `json:"busy"`
	TotalInputBytes  int64     `json:"totalInputBytes"`
	TotalOutputBytes int64     `json:"totalOutputBytes"`
	SpawnedAt        time.Time `json:"spawnedAt"`
	LastSeen         time.Time `json:"lastSeen"`
}

// NormalizeID derives the canonical agent identifier from a
// caller-supplied label: lower-cased, with runs of non-alphanumeric
// characters collapsed to single hyphens and no leading or trailing
// hyphen. "Test Coder" and "test_coder" address the same resident.
func NormalizeID(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	pendingHyphen := false
	for _, r := range strings.ToLower(label) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Options configures a Server. Zero-valued fields get defaults.
type Options struct {
	Agents    *profile.AgentStore
	Buildings *profile.BuildingStore
	Logger    *slog.Logger
	Clock     clock.Clock

	// SessionTimeout is the heartbeat silence after which the sweep
	// despawns a session. Default two minutes.
	SessionTimeout time.Duration

	// SweepInterval is the cadence of RunSweeper. Default 15s.
	SweepInterval time.Duration

	// KeepAlive is the idle-ping interval on subscriber transports.
	// Default 15s.
	KeepAlive time.Duration

	// BodyReadTimeout bounds reading one ingestion request body, so a
	// stalled client cannot pin a handler goroutine. Default 10s.
	BodyReadTimeout time.Duration

	// LeaderboardLimit caps Leaderboard results. Default 50.
	LeaderboardLimit int
}

// Server is the village state machine. A single mutex covers the
// session registry, the level caches, and every broadcast, so the
// full effect of one heartbeat is atomic and all subscribers see the
// same event order.
type Server struct {
	agents    *profile.AgentStore
	buildings *profile.BuildingStore
	allocator *names.Allocator
	logger    *slog.Logger
	clock     clock.Clock

	sessionTimeout   time.Duration
	sweepInterval    time.Duration
	keepAlive        time.Duration
	bodyReadTimeout  time.Duration
	leaderboardLimit int
	startedAt        time.Time

	mu             sync.Mutex
	sessions       map[string]*LiveSession
	agentLevels    map[string]int
	buildingLevels map[string]int
	hub            *hub
}

// NewServer builds a Server over the given stores and seeds the name
// allocator from the persisted roster, so restored residents keep
// their names and newcomers cannot collide with them.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 2 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.BodyReadTimeout <= 0 {
		opts.BodyReadTimeout = 10 * time.Second
	}
	if opts.LeaderboardLimit <= 0 {
		opts.LeaderboardLimit = 50
	}

	s := &Server{
		agents:           opts.Agents,
		buildings:        opts.Buildings,
		allocator:        names.NewAllocator(),
		logger:           opts.Logger,
		clock:            opts.Clock,
		sessionTimeout:   opts.SessionTimeout,
		sweepInterval:    opts.SweepInterval,
		keepAlive:        opts.KeepAlive,
		bodyReadTimeout:  opts.BodyReadTimeout,
		leaderboardLimit: opts.LeaderboardLimit,
		startedAt:        opts.Clock.Now(),
		sessions:         make(map[string]*LiveSession),
		agentLevels:      make(map[string]int),
		buildingLevels:   make(map[string]int),
		hub:              newHub(opts.Logger),
	}
	for id, name := range s.agents.Names() {
		if !s.allocator.Reserve(id, name) {
			s.logger.Warn("stored name already reserved, agent will be renamed",
				"agent", id, "name", name)
		}
	}
	return s
}

// HandleHeartbeat applies one heartbeat: spawn-on-first-contact,
// activity and building routing, work accounting, byte accounting,
// waiting transitions, and all resulting broadcasts, atomically.
func (s *Server) HandleHeartbeat(hb Heartbeat) error {
	id := NormalizeID(hb.Agent)
	if id == "" {
		return fmt.Errorf("heartbeat: agent label %q normalizes to an empty identifier", hb.Agent)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, live := s.sessions[id]
	if !live {
		session = s.spawnLocked(id, &hb, now)
	} else if hb.NewSpawn {
		session.SpawnedAt = now
		s.agents.RecordSession(id)
	}
	session.LastSeen = now
	if hb.Busy != nil {
		session.Busy = *hb.Busy
	}
	if hb.Project != "" && hb.Project != session.Project {
		session.Project = hb.Project
		s.agents.GetOrCreate(id, session.Name, "", hb.Project)
	}
	if parentID := NormalizeID(hb.ParentAgent); parentID != "" && parentID != id && session.ParentID == "" {
		// A parent reported after spawn still links; the store keeps
		// the first parent that ever lands.
		stored := s.agents.GetOrCreate(id, session.Name, parentID, "")
		session.ParentID = stored.ParentID
		if stored.ParentID == parentID {
			s.agents.RecordSubAgentSpawn(parentID)
		}
	}

	var touched []string
	progressed := false

	if hb.Activity != nil {
		activity := *hb.Activity
		if activity != session.Activity || hb.Detail != session.Detail {
			from := BuildingFor(session.Activity)
			to := BuildingFor(activity)
			session.Activity = activity
			session.Detail = hb.Detail
			s.agents.RecordActivity(id, activity, hb.Detail)
			s.hub.broadcast(AgentWork{AgentID: id, Activity: activity, Detail: hb.Detail, Building: to})
			if to != from {
				s.hub.broadcast(AgentMove{AgentID: id, From: from, To: to})
				s.buildings.GetOrCreate(to)
				s.buildings.RecordVisit(to, id)
				touched = append(touched, to)
			}
		}
		if isWorking(activity) {
			if total, ok := s.agents.RecordToolUse(id); ok {
				building := BuildingFor(activity)
				s.buildings.GetOrCreate(building)
				s.buildings.RecordActivity(building, 1, 0, 0)
				touched = append(touched, building)
				for _, milestone := range toolCallMilestones {
					if total == milestone {
						s.hub.broadcast(AgentAchievement{AgentID: id, Name: session.Name, Milestone: milestone})
					}
				}
				progressed = true
			}
		}
	}

	if hb.InputBytes > 0 || hb.OutputBytes > 0 {
		if in, out, ok := s.agents.RecordBytes(id, hb.InputBytes, hb.OutputBytes); ok {
			session.TotalInputBytes = in
			session.TotalOutputBytes = out
			s.hub.broadcast(AgentTokens{AgentID: id, TotalInputBytes: in, TotalOutputBytes: out})
			building := BuildingFor(session.Activity)
			s.buildings.GetOrCreate(building)
			s.buildings.RecordActivity(building, 0, hb.InputBytes, hb.OutputBytes)
			touched = append(touched, building)
			progressed = true
		}
	}

	wantWaiting := session.Waiting
	if hb.Waiting != nil {
		wantWaiting = *hb.Waiting
	} else if hb.Activity != nil && isWorking(*hb.Activity) {
		// Working activity implicitly clears the waiting flag.
		wantWaiting = false
	}
	if wantWaiting != session.Waiting {
		session.Waiting = wantWaiting
		s.hub.broadcast(AgentWaiting{AgentID: id, Waiting: wantWaiting})
	}

	if progressed {
		s.refreshAgentLocked(id, session.Name)
	}
	seen := make(map[string]bool, len(touched))
	for _, building := range touched {
		if !seen[building] {
			seen[building] = true
			s.refreshBuildingLocked(building)
		}
	}
	return nil
}

// spawnLocked admits a new live session and broadcasts its spawn (and,
// for a working activity, the initial work event). Caller holds s.mu.
func (s *Server) spawnLocked(id string, hb *Heartbeat, now time.Time) *LiveSession {
	name := s.agents.StoredName(id)
	if name == "" {
		name = s.allocator.Assign(id)
	}

	parentID := NormalizeID(hb.ParentAgent)
	if parentID == id {
		parentID = ""
	}

	stored := s.agents.GetOrCreate(id, name, parentID, hb.Project)
	s.agents.RecordSession(id)
	if parentID != "" {
		s.agents.RecordSubAgentSpawn(parentID)
	}

	activity := ""
	if hb.Activity != nil {
		activity = *hb.Activity
	}
	session := &LiveSession{
		AgentID:          id,
		Name:             name,
		Role:             strings.TrimSpace(hb.Agent),
		ParentID:         stored.ParentID,
		Project:          hb.Project,
		Activity:         activity,
		Detail:           hb.Detail,
		Busy:             hb.Busy != nil && *hb.Busy,
		TotalInputBytes:  stored.TotalInputBytes,
		TotalOutputBytes: stored.TotalOutputBytes,
		SpawnedAt:        now,
		LastSeen:         now,
	}
	s.sessions[id] = session

	if isWorking(activity) {
		s.agents.RecordActivity(id, activity, hb.Detail)
		building := BuildingFor(activity)
		s.buildings.GetOrCreate(building)
		s.buildings.RecordVisit(building, id)
	}

	enriched, _ := s.agents.Enriched(id)
	s.agentLevels[id] = enriched.Level
	s.hub.broadcast(liveSpawnEvent(session, enriched))
	if isWorking(activity) {
		s.hub.broadcast(AgentWork{
			AgentID:  id,
			Activity: activity,
			Detail:   hb.Detail,
			Building: BuildingFor(activity),
		})
	}

	s.logger.Info("agent spawned",
		"agent", id,
		"name", name,
		"parent", parentID,
		"activity", activity)
	return session
}

// HandleRawEvent applies a direct lifecycle event. Unknown types are
// rejected; events for absent sessions (a work report racing a
// despawn) are benign no-ops.
func (s *Server) HandleRawEvent(ev RawEvent) error {
	id := NormalizeID(ev.AgentID)
	if id == "" {
		return fmt.Errorf("event: agentId %q normalizes to an empty identifier", ev.AgentID)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case "agent:spawn":
		if _, live := s.sessions[id]; live {
			return nil
		}
		if ev.Name != "" {
			// An orchestrator-supplied name overrides the allocator's
			// choice; reserving it first makes the spawn pick it up. A
			// name another resident already holds is refused and the
			// spawn falls back to an assigned one.
			if s.allocator.Reserve(id, ev.Name) {
				s.agents.GetOrCreate(id, ev.Name, "", "")
			} else {
				s.logger.Warn("requested name is taken, assigning instead",
					"agent", id, "name", ev.Name)
			}
		}
		hb := Heartbeat{Agent: ev.AgentID, Detail: ev.Detail}
		if ev.Activity != "" {
			hb.Activity = &ev.Activity
		}
		s.spawnLocked(id, &hb, now)

	case "agent:work":
		session, live := s.sessions[id]
		if !live {
			return nil
		}
		session.LastSeen = now
		if ev.Activity != session.Activity || ev.Detail != session.Detail {
			from := BuildingFor(session.Activity)
			to := BuildingFor(ev.Activity)
			session.Activity = ev.Activity
			session.Detail = ev.Detail
			s.agents.RecordActivity(id, ev.Activity, ev.Detail)
			s.hub.broadcast(AgentWork{AgentID: id, Activity: ev.Activity, Detail: ev.Detail, Building: to})
			if to != from {
				s.hub.broadcast(AgentMove{AgentID: id, From: from, To: to})
				s.buildings.GetOrCreate(to)
				s.buildings.RecordVisit(to, id)
				s.refreshBuildingLocked(to)
			}
		}

	case "agent:failure":
		s.hub.broadcast(AgentFailure{AgentID: id, Reason: ev.Reason})

	case "agent:despawn":
		s.despawnLocked(id, ev.Reason, false)

	case "agent:complete":
		s.despawnLocked(id, "", true)

	default:
		return fmt.Errorf("event: unknown type %q", ev.Type)
	}
	return nil
}

// despawnLocked removes a live session and broadcasts its exit. The
// durable profile and the allocated name survive: despawned agents
// become offline residents, not strangers. Caller holds s.mu.
func (s *Server) despawnLocked(id, reason string, complete bool) {
	if _, live := s.sessions[id]; !live {
		return
	}
	delete(s.sessions, id)
	delete(s.agentLevels, id)

	if complete {
		s.hub.broadcast(AgentComplete{AgentID: id})
		s.logger.Info("agent completed", "agent", id)
	} else {
		s.hub.broadcast(AgentDespawn{AgentID: id, Reason: reason})
		s.logger.Info("agent despawned", "agent", id, "reason", reason)
	}
}

// Sweep despawns every session whose last heartbeat is older than the
// session timeout. Returns the number despawned.
func (s *Server) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, session := range s.sessions {
		if now.Sub(session.LastSeen) > s.sessionTimeout {
			s.despawnLocked(id, "timeout", false)
			expired++
		}
	}
	return expired
}

// RunSweeper runs Sweep on the configured interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Subscribe registers a consumer whose channel is prefilled with the
// state snapshot. Taken under the state lock, so no broadcast can
// interleave between snapshot and registration: the subscriber's
// stream is gap-free from its snapshot point.
func (s *Server) Subscribe() *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.add(s.snapshotLocked())
}

// Unsubscribe deregisters a subscriber returned by Subscribe.
func (s *Server) Unsubscribe(sub *Subscriber) {
	s.hub.remove(sub)
}

// snapshotLocked builds the replay sequence for a fresh subscriber:
// live residents (spawn, then current work/tokens/waiting), offline
// residents as spawn events flagged Offline, then every building's
// state. Caller holds s.mu.
func (s *Server) snapshotLocked() []Event {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []Event
	for _, id := range ids {
		session := s.sessions[id]
		enriched, ok := s.agents.Enriched(id)
		if !ok {
			continue
		}
		events = append(events, liveSpawnEvent(session, enriched))
		if isWorking(session.Activity) {
			events = append(events, AgentWork{
				AgentID:  id,
				Activity: session.Activity,
				Detail:   session.Detail,
				Building: BuildingFor(session.Activity),
			})
		}
		if session.TotalInputBytes > 0 || session.TotalOutputBytes > 0 {
			events = append(events, AgentTokens{
				AgentID:          id,
				TotalInputBytes:  session.TotalInputBytes,
				TotalOutputBytes: session.TotalOutputBytes,
			})
		}
		if session.Waiting {
			events = append(events, AgentWaiting{AgentID: id, Waiting: true})
		}
	}

	for _, enriched := range s.agents.All() {
		if _, live := s.sessions[enriched.AgentID]; live {
			continue
		}
		events = append(events, offlineSpawnEvent(enriched))
	}

	for _, building := range s.buildings.All() {
		events = append(events, buildingStateEvent(building))
	}
	return events
}

// refreshAgentLocked broadcasts the agent's progression and, on a
// strict level increase, a level-up. Caller holds s.mu.
func (s *Server) refreshAgentLocked(id, name string) {
	enriched, ok := s.agents.Enriched(id)
	if !ok {
		return
	}
	s.hub.broadcast(AgentXP{
		AgentID:     id,
		XP:          enriched.XP,
		Level:       enriched.Level,
		Title:       enriched.Title,
		NextLevelXP: enriched.NextLevelXP,
		NextTitle:   enriched.NextTitle,
	})
	if previous, seen := s.agentLevels[id]; seen && enriched.Level > previous {
		s.hub.broadcast(AgentLevelUp{
			AgentID: id,
			Name:    name,
			Level:   enriched.Level,
			Title:   enriched.Title,
			XP:      enriched.XP,
		})
		s.logger.Info("agent leveled up",
			"agent", id,
			"name", name,
			"level", enriched.Level,
			"title", enriched.Title)
	}
	s.agentLevels[id] = enriched.Level
}

// refreshBuildingLocked broadcasts the building's progression and, on
// a strict level increase, its full state. Caller holds s.mu.
func (s *Server) refreshBuildingLocked(buildingID string) {
	enriched, ok := s.buildings.Enriched(buildingID)
	if !ok {
		return
	}
	s.hub.broadcast(BuildingXP{
		BuildingID: buildingID,
		XP:         enriched.XP,
		Level:      enriched.Level,
		Title:      enriched.Title,
		ToolCalls:  enriched.ToolCalls,
	})
	if previous, seen := s.buildingLevels[buildingID]; seen && enriched.Level > previous {
		s.hub.broadcast(buildingStateEvent(enriched))
		s.logger.Info("building leveled up",
			"building", buildingID,
			"level", enriched.Level,
			"title", enriched.Title)
	}
	s.buildingLevels[buildingID] = enriched.Level
}

// StatusReport is the /api/status payload.
type StatusReport struct {
	UptimeSeconds float64       `json:"uptimeSeconds"`
	LiveSessions  int           `json:"liveSessions"`
	KnownAgents   int           `json:"knownAgents"`
	Subscribers   int           `json:"subscribers"`
	Sessions      []LiveSession `json:"sessions"`
}

// Status returns operational counters and the live-session list,
// sorted by identifier.
func (s *Server) Status() StatusReport {
	now := s.clock.Now()

	s.mu.Lock()
	sessions := make([]LiveSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session)
	}
	s.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].AgentID < sessions[j].AgentID
	})
	return StatusReport{
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		LiveSessions:  len(sessions),
		KnownAgents:   len(s.agents.Names()),
		Subscribers:   s.hub.count(),
		Sessions:      sessions,
	}
}

// Leaderboard returns the top agents by XP, capped at the configured
// limit.
func (s *Server) Leaderboard() []profile.EnrichedAgent {
	all := s.agents.All()
	if len(all) > s.leaderboardLimit {
		all = all[:s.leaderboardLimit]
	}
	return all
}

// liveSpawnEvent builds the spawn broadcast for a live session.
func liveSpawnEvent(session *LiveSession, enriched profile.EnrichedAgent) AgentSpawn {
	return AgentSpawn{
		AgentID:          session.AgentID,
		Name:             session.Name,
		Role:             session.Role,
		Clan:             enriched.Clan,
		ParentID:         session.ParentID,
		Activity:         session.Activity,
		Detail:           session.Detail,
		XP:               enriched.XP,
		Level:            enriched.Level,
		Title:            enriched.Title,
		TotalInputBytes:  enriched.TotalInputBytes,
		TotalOutputBytes: enriched.TotalOutputBytes,
		RecentActivity:   enriched.RecentActivity,
	}
}

// offlineSpawnEvent builds the snapshot entry for a resident with no
// live session.
func offlineSpawnEvent(enriched profile.EnrichedAgent) AgentSpawn {
	return AgentSpawn{
		AgentID:          enriched.AgentID,
		Name:             enriched.Name,
		Clan:             enriched.Clan,
		ParentID:         enriched.ParentID,
		XP:               enriched.XP,
		Level:            enriched.Level,
		Title:            enriched.Title,
		TotalInputBytes:  enriched.TotalInputBytes,
		TotalOutputBytes: enriched.TotalOutputBytes,
		RecentActivity:   enriched.RecentActivity,
		Offline:          true,
	}
}
