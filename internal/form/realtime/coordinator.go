package realtime

import (
	"context"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcast outcomes
const (
	OutcomeDelivered     = "delivered"
	OutcomeNoSubscribers = "no_subscribers"
	OutcomeDuplicate     = "duplicate"
	OutcomeInvalid       = "invalid"
)

// Target who receives a broadcast. A message goes to the union of the task
// and company subscribers; Exclude is the originating connection.
type Target struct {
	TaskID      int64
	CompanyID   int64
	OperationID string
	Exclude     string
	// Revision identifies the committed state a message describes. Two
	// commits that reuse one operation id differ here; a replay does not.
	Revision string
}

func (t Target) scopes() []Scope {
	var out []Scope
	if t.TaskID > 0 {
		out = append(out, TaskScope(t.TaskID))
	}
	if t.CompanyID > 0 {
		out = append(out, CompanyScope(t.CompanyID))
	}
	return out
}

func (t Target) dedupKey(msgType, opID string) string {
	key := "broadcast:" + msgType + ":" + opID
	if t.Revision != "" {
		key += "@" + t.Revision
	}
	return key
}

func (t Target) orderKey() string {
	if t.TaskID > 0 {
		return TaskScope(t.TaskID).String()
	}
	return CompanyScope(t.CompanyID).String()
}

// AuditSink records broadcasts. MessageLogRepository implements it.
type AuditSink interface {
	Create(ctx context.Context, msg *entity.WebsocketMessage) error
}

// CoordinatorOptions tunables of a Coordinator
type CoordinatorOptions struct {
	DedupWindow    time.Duration
	EmitLegacyData bool
	Audit          AuditSink
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Coordinator is the single entry point for server-initiated messages.
type Coordinator struct {
	registry *Registry
	dedup    guard.OperationGuard
	order    *guard.KeyedMutex

	dedupWindow time.Duration
	legacyData  bool
	audit       AuditSink
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewCoordinator builds a coordinator over registry. dedup may be nil, in
// which case operation ids are remembered in memory.
func NewCoordinator(registry *Registry, dedup guard.OperationGuard, opts CoordinatorOptions) *Coordinator {
	if dedup == nil {
		dedup = guard.NewMemoryGuard()
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		registry:    registry,
		dedup:       dedup,
		order:       guard.NewKeyedMutex(),
		dedupWindow: opts.DedupWindow,
		legacyData:  opts.EmitLegacyData,
		audit:       opts.Audit,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Registry the registry messages are routed through.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Broadcast wraps payload in an envelope and routes it to the subscribers of
// target. It reports whether at least one connection received the frame.
// Failures are logged and never returned: clients reconcile with a GET.
func (c *Coordinator) Broadcast(ctx context.Context, msgType string, payload interface{}, target Target) bool {
	opID := target.OperationID
	if opID == "" {
		opID = uuid.New().String()
	}
	log := c.logger.With(
		zap.String("type", msgType),
		zap.String("operation_id", opID),
		zap.Int64("task_id", target.TaskID),
		zap.Int64("company_id", target.CompanyID),
	)

	scopes := target.scopes()
	if len(scopes) == 0 {
		c.metrics.Broadcast(msgType, OutcomeInvalid)
		log.Warn("broadcast without task or company, dropped")
		return false
	}

	fresh, err := c.dedup.Claim(ctx, target.dedupKey(msgType, opID), c.dedupWindow)
	if err != nil {
		// a broken dedup store must not silence broadcasts
		log.Warn("broadcast dedup check failed", zap.Error(err))
		fresh = true
	}
	if !fresh {
		c.metrics.Broadcast(msgType, OutcomeDuplicate)
		log.Debug("duplicate operation id, broadcast suppressed")
		return false
	}

	msg, err := NewMessage(msgType, payload)
	if err != nil {
		c.metrics.Broadcast(msgType, OutcomeInvalid)
		log.Error("broadcast payload rejected", zap.Error(err))
		return false
	}
	msg.OperationID = opID
	frame, err := Encode(msg, c.legacyData)
	if err != nil {
		c.metrics.Broadcast(msgType, OutcomeInvalid)
		log.Error("broadcast encode failed", zap.Error(err))
		return false
	}

	unlock := c.order.Lock(target.orderKey())
	delivered, dropped := c.registry.Route(scopes, frame, target.Exclude)
	unlock()

	if dropped > 0 {
		log.Warn("broadcast partially dropped", zap.Int("delivered", delivered), zap.Int("dropped", dropped))
	}
	c.record(ctx, log, msg, target, delivered)

	if delivered == 0 {
		c.metrics.Broadcast(msgType, OutcomeNoSubscribers)
		log.Debug("no subscribers, broadcast dropped")
		return false
	}
	c.metrics.Broadcast(msgType, OutcomeDelivered)
	log.Debug("broadcast delivered", zap.Int("recipients", delivered))
	return true
}

func (c *Coordinator) record(ctx context.Context, log *zap.Logger, msg Message, target Target, recipients int) {
	if c.audit == nil {
		return
	}
	row := &entity.WebsocketMessage{
		Type:        msg.Type,
		OperationID: msg.OperationID,
		Payload:     string(msg.Payload),
		Recipients:  recipients,
		CreatedAt:   msg.Timestamp,
	}
	if target.TaskID > 0 {
		id := target.TaskID
		row.TaskID = &id
	}
	if target.CompanyID > 0 {
		id := target.CompanyID
		row.CompanyID = &id
	}
	if err := c.audit.Create(context.WithoutCancel(ctx), row); err != nil {
		log.Warn("broadcast audit failed", zap.Error(err))
	}
}

// Reply sends a message to one connection, bypassing scopes and dedup. Used
// for connection_established, pong and control acknowledgements.
func (c *Coordinator) Reply(connID, msgType string, payload interface{}) bool {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		c.logger.Error("reply payload rejected", zap.String("type", msgType), zap.Error(err))
		return false
	}
	frame, err := Encode(msg, c.legacyData)
	if err != nil {
		return false
	}
	return c.registry.SendTo(connID, frame)
}
