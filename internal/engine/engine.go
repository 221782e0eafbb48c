// Package engine wires the ledger, conversation store, throttle, and
// model provider into the inbound-message flow.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukerupert/chatledger/internal/audit"
	"github.com/dukerupert/chatledger/internal/conversation"
	"github.com/dukerupert/chatledger/internal/ledger"
	"github.com/dukerupert/chatledger/internal/license"
	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/provider"
	"github.com/dukerupert/chatledger/internal/session"
	"github.com/dukerupert/chatledger/internal/storage"
	"github.com/dukerupert/chatledger/internal/stream"
)

type Config struct {
	// ContextWindow caps how many history messages are sent to the model.
	ContextWindow int
	// LowBalanceThreshold marks replies that should carry a running-low
	// warning: 0 < remaining <= threshold.
	LowBalanceThreshold int64
	DefaultModel        string
}

func (c *Config) applyDefaults() {
	if c.ContextWindow <= 0 {
		c.ContextWindow = 20
	}
	if c.LowBalanceThreshold <= 0 {
		c.LowBalanceThreshold = 5
	}
}

// Reply is the outcome of one handled user message.
type Reply struct {
	StreamID       string      `json:"stream_id"`
	ConversationID int64       `json:"conversation_id"`
	Text           string      `json:"text"`
	ModelUsed      string      `json:"model_used"`
	Usage          model.Usage `json:"usage"`
	LowBalance     bool        `json:"low_balance"`
}

type Engine struct {
	ledger   *ledger.Ledger
	registry *license.Registry
	convos   *conversation.Service
	audit    *audit.Log
	provider provider.Provider
	sessions *session.Manager
	cfg      Config
	logger   *slog.Logger
}

func New(backend storage.Backend, p provider.Provider, cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	auditLog := audit.New(backend.Transactions(), logger)
	return &Engine{
		ledger:   ledger.New(backend.Accounts()),
		registry: license.New(backend.Licenses(), backend.Accounts(), auditLog),
		convos:   conversation.New(backend.Conversations()),
		audit:    auditLog,
		provider: p,
		sessions: session.NewManager(cfg.DefaultModel, provider.DefaultModeID),
		cfg:      cfg,
		logger:   logger,
	}
}

func (e *Engine) Ledger() *ledger.Ledger               { return e.ledger }
func (e *Engine) Registry() *license.Registry          { return e.registry }
func (e *Engine) Conversations() *conversation.Service { return e.convos }
func (e *Engine) Audit() *audit.Log                    { return e.audit }
func (e *Engine) Sessions() *session.Manager           { return e.sessions }

// OnUserMessage runs the full inbound flow: entitlement check, user-message
// append, streamed generation through the throttle, assistant-message
// persistence, and quota debit. Flushes go to sink as they happen; the call
// returns once the generation finishes.
//
// A denied user gets ledger.ErrQuotaExceeded with nothing persisted. A
// generation failure or cancellation mid-stream still persists and debits
// whatever text was produced, and the error is returned alongside the Reply.
func (e *Engine) OnUserMessage(ctx context.Context, userID int64, text string, sink stream.Sink) (*Reply, error) {
	if _, err := e.ledger.GetOrCreate(ctx, userID, model.Profile{}); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	entitled, err := e.ledger.HasEntitlement(ctx, userID)
	if err != nil {
		// Fail closed: an unreachable backend denies access.
		return nil, err
	}
	if !entitled {
		return nil, ledger.ErrQuotaExceeded
	}

	sess := e.sessions.Get(userID)
	e.sessions.Touch(userID)
	mode := provider.ModeByID(sess.Mode)
	modelName := sess.Model
	if modelName == "" {
		modelName = mode.Model
	}
	if modelName == "" {
		modelName = e.cfg.DefaultModel
	}

	conv, err := e.convos.Active(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if _, err := e.convos.Append(ctx, conv.ID, userID, text, true, nil); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	history, err := e.convos.History(ctx, conv.ID, e.cfg.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	streamID := uuid.NewString()
	log := e.logger.With("stream_id", streamID, "user_id", userID, "conversation_id", conv.ID)

	frags, err := e.provider.Stream(ctx, provider.Request{
		Model:   modelName,
		System:  mode.Prompt,
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}

	throttle := stream.New(sink)
	final, streamErr := stream.Consume(ctx, throttle, frags)

	reply := &Reply{
		StreamID:       streamID,
		ConversationID: conv.ID,
		Text:           final,
		ModelUsed:      modelName,
	}
	if final == "" {
		if streamErr != nil {
			log.Warn("generation produced no output", "error", streamErr)
			return reply, streamErr
		}
		return reply, nil
	}

	// Persistence and the debit are tied to the text actually produced,
	// so they proceed even when the interaction was cancelled mid-stream.
	pctx := context.WithoutCancel(ctx)
	if _, err := e.convos.Append(pctx, conv.ID, userID, final, false, &modelName); err != nil {
		log.Error("persist assistant message", "error", err)
		return reply, fmt.Errorf("append assistant message: %w", err)
	}

	debited, err := e.ledger.ConsumeOneMessage(pctx, userID)
	if err != nil {
		log.Error("debit quota", "error", err)
		return reply, fmt.Errorf("debit quota: %w", err)
	}

	if !debited {
		log.Warn("entitlement lapsed mid-generation, no debit recorded")
	}
	usage, err := e.ledger.UsageSnapshot(pctx, userID)
	if err != nil {
		log.Error("usage snapshot", "error", err)
	} else {
		reply.Usage = usage
		reply.LowBalance = usage.Remaining > 0 && usage.Remaining <= e.cfg.LowBalanceThreshold
		if debited {
			e.audit.Debit(pctx, userID, 1, usage.Remaining+1, usage.Remaining, "assistant message")
		}
	}

	if streamErr != nil {
		// Partial answer persisted; the failure still goes upstream.
		return reply, streamErr
	}
	return reply, nil
}

// NewConversation starts a fresh conversation for the user and resets
// their session state.
func (e *Engine) NewConversation(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	c, err := e.convos.New(ctx, userID, themeID)
	if err != nil {
		return nil, err
	}
	e.sessions.Reset(userID)
	return c, nil
}
