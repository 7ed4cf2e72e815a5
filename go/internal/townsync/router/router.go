// Package router dispatches push-channel messages to the state store.
package router

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/normalize"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

// ResyncTrigger is told about every accepted report so it can schedule a
// pull-based refresh when work completes.
type ResyncTrigger interface {
	ObserveReport(report models.Report) bool
}

// Router normalizes inbound frames and applies them to the store. It holds no
// state of its own; every accepted message becomes exactly one store mutation.
type Router struct {
	store  *state.Store
	resync ResyncTrigger
}

// New creates a router. resync may be nil.
func New(store *state.Store, resync ResyncTrigger) *Router {
	return &Router{store: store, resync: resync}
}

// Run handles messages in arrival order until ctx is cancelled or messages is
// closed.
func (r *Router) Run(ctx context.Context, messages <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-messages:
			if !ok {
				return
			}
			r.Handle(raw)
		}
	}
}

// Handle processes one raw frame. It reports whether the frame was accepted;
// malformed frames and unknown types are dropped without side effects.
func (r *Router) Handle(raw []byte) bool {
	env, ok := normalize.DecodeEnvelope(raw)
	if !ok {
		log.Debug().Int("bytes", len(raw)).Msg("dropping undecodable frame")
		return false
	}

	accepted := r.dispatch(env)
	if !accepted {
		log.Debug().Str("type", string(env.Type)).Msg("dropping malformed payload")
	}
	return accepted
}

func (r *Router) dispatch(env normalize.Envelope) bool {
	switch env.Type {
	case normalize.TypeTaskUpdate:
		task, ok := normalize.Task(env.Payload)
		if !ok {
			return false
		}
		r.store.UpsertTask(task)
		log.Debug().
			Str("task_id", task.TaskID).
			Str("assignee_id", task.AssigneeID).
			Str("status", string(task.Status)).
			Msg("task updated")
		return true

	case normalize.TypeReportUpdate:
		report, ok := normalize.Report(env.Payload)
		if !ok {
			return false
		}
		if _, changed := r.store.ApplyReport(report); !changed {
			log.Debug().
				Str("report_id", report.ReportID).
				Str("worker_id", report.WorkerID).
				Msg("ignoring report older than the one on record")
		}
		if r.resync != nil {
			r.resync.ObserveReport(report)
		}
		return true

	case normalize.TypeDashboardUpdate:
		content, ok := normalize.Dashboard(env.Payload)
		if !ok {
			return false
		}
		r.store.SetDashboard(content)
		return true

	case normalize.TypeCommandUpdate:
		update, ok := normalize.CommandUpdate(env.Payload)
		if !ok {
			return false
		}
		if update.Collection {
			r.store.ReplaceCommands(update.Commands)
		} else {
			r.store.UpsertCommands(update.Commands)
		}
		return true

	case normalize.TypeGameStateUpdate:
		patch, ok := normalize.GameState(env.Payload)
		if !ok {
			return false
		}
		r.store.ApplyPatch(patch)
		return true

	case normalize.TypeInitialState:
		init, ok := normalize.InitialState(env.Payload)
		if !ok {
			return false
		}
		snap := r.store.ApplyInitialState(init)
		log.Info().
			Int("tasks", len(snap.Tasks)).
			Int("reports", len(snap.Reports)).
			Int("commands", len(snap.Commands)).
			Msg("initial state applied")
		return true

	case normalize.TypeWSError:
		wsErr, ok := normalize.WSError(env.Payload)
		if !ok {
			return false
		}
		log.Warn().Str("code", wsErr.Code).Str("message", wsErr.Message).Msg("server reported channel error")
		return true

	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown message type")
		return false
	}
}
