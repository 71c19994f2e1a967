package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulsebot/internal/behavior"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/policy"
	"pulsebot/pkg/logx"
)

// outcome is the result of evaluating one (user, community) pair.
type outcome struct {
	sent   bool
	reason string
}

func (s *Service) runCycle(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("cycle already running; trigger skipped")
		return nil, ErrCycleActive
	}
	s.cycleWG.Add(1)
	defer s.cycleWG.Done()
	defer s.running.Store(false)

	start := s.now()
	rep := &CycleReport{
		ID:          uuid.NewString(),
		StartedAt:   start,
		SkipReasons: map[string]int{},
	}
	log := s.log.With(logx.String("cycle", rep.ID))
	log.Info("cycle started")
	s.publish(eventbus.TypeCycleStarted, map[string]any{"cycle": rep.ID})

	communities, err := s.deps.Directory.Communities(ctx)
	if err != nil {
		log.Error("community enumeration failed; cycle aborted", logx.Err(err))
		return nil, fmt.Errorf("enumerate communities: %w", err)
	}
	log.Debug("communities enumerated", logx.Int("count", len(communities)))

	var repMu sync.Mutex
	for _, community := range communities {
		if ctx.Err() != nil {
			break
		}
		cr := s.processCommunity(ctx, community, rep, &repMu, log)
		rep.Communities = append(rep.Communities, cr)
		rep.Sent += cr.Sent
		rep.Skipped += cr.Skipped
	}

	rep.Duration = s.now().Sub(start)
	s.setLast(rep)
	s.publish(eventbus.TypeCycleFinished, rep)
	log.Info("cycle finished",
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration))
	return rep, nil
}

// processCommunity fans out over the member list with a bounded worker
// group. Workers never return errors: every per-user failure is folded
// into a skip outcome so one bad user cannot stop the rest.
func (s *Service) processCommunity(ctx context.Context, community behavior.Community, rep *CycleReport, repMu *sync.Mutex, log logx.Logger) CommunityReport {
	cr := CommunityReport{
		CommunityID: community.ID,
		Name:        community.Name,
		Members:     len(community.MemberIDs),
	}

	var crMu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers())

	for _, userID := range community.MemberIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := s.evaluateUser(ctx, userID, community.ID, log)

			crMu.Lock()
			if out.sent {
				cr.Sent++
			} else {
				cr.Skipped++
			}
			crMu.Unlock()

			if out.sent {
				s.publish(eventbus.TypeUserNotified, map[string]any{
					"user": userID, "community": community.ID,
				})
			} else {
				repMu.Lock()
				rep.SkipReasons[out.reason]++
				repMu.Unlock()
				s.publish(eventbus.TypeUserSkipped, map[string]any{
					"user": userID, "community": community.ID, "reason": out.reason,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug("community processed",
		logx.String("community", community.ID),
		logx.Int("members", cr.Members),
		logx.Int("sent", cr.Sent),
		logx.Int("skipped", cr.Skipped))
	return cr
}

// evaluateUser runs the full per-user pipeline: policy pre-check,
// context build, oracle decision, second-pass validation, record, and
// hand-off. It is the single place errors become skip decisions.
func (s *Service) evaluateUser(ctx context.Context, userID, communityID string, log logx.Logger) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while evaluating user",
				logx.String("user", userID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			out = outcome{reason: SkipProcessingError}
		}
	}()

	key := policy.Key{UserID: userID, CommunityID: communityID}

	check, err := s.deps.Gate.CanNotify(ctx, key)
	if err != nil {
		log.Warn("policy check failed", logx.String("user", userID), logx.Err(err))
		return outcome{reason: SkipProcessingError}
	}
	if !check.Allowed {
		return outcome{reason: string(check.Reason)}
	}

	dctx, err := s.deps.Contexts.Build(ctx, userID, communityID)
	if err != nil {
		if errors.Is(err, behavior.ErrNoContext) {
			return outcome{reason: SkipNoContext}
		}
		log.Warn("context build failed", logx.String("user", userID), logx.Err(err))
		return outcome{reason: SkipProcessingError}
	}

	sig := behavior.BuildSignals(s.now(), dctx.Profile, dctx.Window)

	decision, err := s.deps.Oracle.Decide(ctx, dctx, sig)
	if err != nil {
		log.Warn("oracle decision failed", logx.String("user", userID), logx.Err(err))
		return outcome{reason: SkipOracleError}
	}
	if !decision.ShouldNotify {
		return outcome{reason: SkipOracleDeclined}
	}

	if err := s.deps.Gate.ValidateDecision(decision); err != nil {
		log.Warn("decision failed policy validation", logx.String("user", userID), logx.Err(err))
		return outcome{reason: SkipPolicyValidation}
	}

	// Record-on-decision: the send counts for rate limiting even if the
	// durable write or the hand-off itself fails, so a retry can never
	// double-send.
	if err := s.deps.Gate.RecordNotification(ctx, key); err != nil {
		log.Error("recording notification failed", logx.String("user", userID), logx.Err(err))
	}

	h := Handoff{
		ID:          uuid.NewString(),
		UserID:      userID,
		CommunityID: communityID,
		Message:     decision.Message,
		Priority:    decision.Priority,
		Tone:        decision.Tone,
		Timestamp:   s.now(),
	}
	if err := s.deps.Sink.Deliver(ctx, h); err != nil {
		log.Warn("delivery hand-off failed", logx.String("user", userID), logx.Err(err))
	}

	log.Info("notification sent",
		logx.String("user", userID),
		logx.String("community", communityID),
		logx.String("priority", string(decision.Priority)),
		logx.String("tone", string(decision.Tone)))
	return outcome{sent: true}
}

func (s *Service) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
