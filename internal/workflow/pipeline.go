package workflow

import (
	"context"
	"time"

	"order-bot/internal/session"
	"order-bot/pkg/logger"
)

const msgAgentUnavailable = "I'm having trouble understanding right now. Could you rephrase that?"

// Stage is one named handler in the message pipeline.
type Stage struct {
	Name    string
	Handler Handler
}

// agentTimeout caps one NL agent call. The agent runs outside the session lock.
const agentTimeout = 20 * time.Second

// Pipeline is the entry point for every inbound chat message. It holds the
// session lock while the auth gate and each stage are asked in order; the NL
// agent gets whatever nobody claimed, after the lock is released.
type Pipeline struct {
	locker       session.Locker
	auth         *AuthWorkflow
	stages       []Stage
	agent        Agent
	agentTimeout time.Duration
	logger       *logger.Logger
}

// NewPipeline builds the pipeline. auth and agent may be nil.
func NewPipeline(locker session.Locker, auth *AuthWorkflow, agent Agent, log *logger.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		locker:       locker,
		auth:         auth,
		stages:       stages,
		agent:        agent,
		agentTimeout: agentTimeout,
		logger:       log,
	}
}

// Handle always returns a reply; internal errors are logged, never shown.
func (p *Pipeline) Handle(ctx context.Context, sessionID, text string) *Reply {
	reply, claimed := p.dispatch(ctx, sessionID, text)
	if claimed {
		return reply
	}
	return p.fallback(ctx, sessionID, text)
}

// dispatch runs the workflows under the session lock. claimed is false when
// no workflow took the message.
func (p *Pipeline) dispatch(ctx context.Context, sessionID, text string) (*Reply, bool) {
	unlock, err := p.locker.Lock(ctx, sessionID)
	if err != nil {
		p.logger.Warnw("Could not lock session", "session_id", sessionID, "error", err)
		return &Reply{Text: msgBusy}, true
	}
	defer unlock()

	if p.auth != nil {
		reply, err := p.auth.Handle(ctx, sessionID, text)
		if err != nil {
			p.logger.Errorw("Auth workflow failed", "session_id", sessionID, "error", err)
			return &Reply{Text: msgTryAgain}, true
		}
		if reply != nil {
			return reply, true
		}
	}

	for _, stage := range p.stages {
		reply, err := stage.Handler.Handle(ctx, sessionID, text)
		if err != nil {
			p.logger.Errorw("Stage failed", "stage", stage.Name, "session_id", sessionID, "error", err)
			return &Reply{Text: msgTryAgain}, true
		}
		if reply != nil {
			p.logger.Debugw("Message handled", "stage", stage.Name, "session_id", sessionID)
			return reply, true
		}
	}
	return nil, false
}

// fallback asks the NL agent. It reads no workflow state, so it needs no lock.
func (p *Pipeline) fallback(ctx context.Context, sessionID, text string) *Reply {
	if p.agent == nil {
		return &Reply{Text: msgAgentUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, p.agentTimeout)
	defer cancel()

	answer, err := p.agent.Reply(ctx, sessionID, text)
	if err != nil {
		p.logger.Errorw("NL agent failed", "session_id", sessionID, "error", err)
		return &Reply{Text: msgAgentUnavailable}
	}
	return &Reply{Text: answer}
}

// Logout clears the session's verification under the session lock.
func (p *Pipeline) Logout(ctx context.Context, sessionID string) *Reply {
	if p.auth == nil {
		return &Reply{Text: msgLoggedOut}
	}
	unlock, err := p.locker.Lock(ctx, sessionID)
	if err != nil {
		p.logger.Warnw("Could not lock session", "session_id", sessionID, "error", err)
		return &Reply{Text: msgBusy}
	}
	defer unlock()
	return p.auth.Logout(ctx, sessionID)
}
