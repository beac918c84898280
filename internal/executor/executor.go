package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iamwavecut/forumwarden/internal/correlation"
	"github.com/iamwavecut/forumwarden/internal/db"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/notify"
	"github.com/iamwavecut/forumwarden/internal/observability"
)

var ErrUnknownForum = errors.New("no moderation group for forum")

// DefaultCallTimeout bounds a remote delete or ban together with the ledger
// write that records its result.
const DefaultCallTimeout = 30 * time.Second

type (
	ruleResolver interface {
		Resolve(ctx context.Context, id int64) (*db.Rule, error)
	}

	groupStore interface {
		GetGroup(ctx context.Context, id int64) (*db.Group, error)
		GetGroupByForum(ctx context.Context, forumID int64) (*db.Group, error)
	}

	clientPool interface {
		Get(ctx context.Context, groupID int64) (forum.Client, error)
	}

	correlationStore interface {
		Put(ctx context.Context, ref correlation.MessageRef, entry correlation.Entry) error
		LoadOutcome(ctx context.Context, fingerprint string, dst any) (bool, error)
		SaveOutcome(ctx context.Context, fingerprint string, v any) error
	}

	sender interface {
		Send(ctx context.Context, n notify.Notice) (int, error)
	}

	renderer interface {
		Render(ctx context.Context, template string, rep notify.Report) []notify.Segment
		RenderAppeal(rep notify.AppealReport) []notify.Segment
	}
)

// IsPermanent reports whether retrying the same input can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, forum.ErrUnknownObjectType) ||
		errors.Is(err, ErrUnknownForum) ||
		errors.Is(err, db.ErrCorruptRow)
}

type Executor struct {
	rules   ruleResolver
	groups  groupStore
	pool    clientPool
	corr    correlationStore
	sender  sender
	render  renderer
	policy  forum.Policy
	banDays int
	timeout time.Duration
}

func NewExecutor(rules ruleResolver, groups groupStore, pool clientPool, corr correlationStore, sender sender, render renderer) *Executor {
	return &Executor{
		rules:   rules,
		groups:  groups,
		pool:    pool,
		corr:    corr,
		sender:  sender,
		render:  render,
		policy:  forum.OneShotPolicy(),
		banDays: db.DefaultBanDays,
		timeout: DefaultCallTimeout,
	}
}

// WithDefaultBanDays sets the ban length used by rules that leave days unset.
func (e *Executor) WithDefaultBanDays(days int) *Executor {
	if days > 0 {
		e.banDays = days
	}
	return e
}

func (e *Executor) getLogEntry() *log.Entry {
	return log.WithField("object", "Executor")
}

// Execute runs the actions of every matched rule in order. Delete and ban are
// attempted at most once per payload, even across redeliveries. A notification
// is sent for the first notifying rule and again for any rule that made a new
// delete or ban attempt.
func (e *Executor) Execute(ctx context.Context, p Payload) (err error) {
	done := observability.StartExecute()
	ctx, span := otel.Tracer("executor").Start(ctx, "execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("forum_id", p.ForumID),
			attribute.String("object_type", string(p.ObjectType)),
			attribute.Int("rules", len(p.MatchedRuleIDs)),
		),
	)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		done(status)
	}()

	obj, err := forum.DecodeObject(p.ObjectType, p.ObjectData)
	if err != nil {
		return err
	}

	group, err := e.groups.GetGroupByForum(ctx, p.ForumID)
	if err != nil {
		return fmt.Errorf("load group for forum %d: %w", p.ForumID, err)
	}
	if group == nil {
		return fmt.Errorf("%w: %d", ErrUnknownForum, p.ForumID)
	}

	fingerprint := p.Fingerprint()
	entry := e.getLogEntry().WithFields(log.Fields{
		"forum_id":    p.ForumID,
		"group_id":    group.ID,
		"content_id":  obj.ContentID(),
		"fingerprint": fingerprint[:12],
	})

	outcome := &Outcome{}
	if _, err := e.corr.LoadOutcome(ctx, fingerprint, outcome); err != nil {
		return err
	}

	for _, ruleID := range p.MatchedRuleIDs {
		rule, err := e.rules.Resolve(ctx, ruleID)
		if err != nil {
			return err
		}
		if rule == nil {
			entry.WithField("rule_id", ruleID).Debug("rule no longer exists, skipping")
			continue
		}

		attempted := false
		actions := rule.Actions

		if actions.Delete.Enabled && !outcome.DeleteAttempted {
			outcome.DeleteAttempted = true
			if err := e.corr.SaveOutcome(ctx, fingerprint, outcome); err != nil {
				return err
			}
			attempted = true
			err := e.remote(ctx, func(ctx context.Context) error {
				err := e.withClient(ctx, group.ID, func(c forum.Client) error {
					_, err := forum.CallWithRetry(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
						return struct{}{}, forum.DeleteObject(ctx, c, p.ForumID, obj)
					})
					return err
				})
				outcome.Deleted = err == nil
				outcome.DeleteError = forum.Reason(err)
				observability.RecordAction("delete", outcome.Deleted)
				entry.WithFields(log.Fields{"rule_id": rule.ID, "deleted": outcome.Deleted, "reason": outcome.DeleteError}).Info("delete attempted")
				return e.corr.SaveOutcome(ctx, fingerprint, outcome)
			})
			if err != nil {
				return err
			}
		}

		if actions.Ban.Enabled && !outcome.BanAttempted {
			days := actions.Ban.BanDays(e.banDays)
			outcome.BanAttempted = true
			outcome.BanDays = days
			if err := e.corr.SaveOutcome(ctx, fingerprint, outcome); err != nil {
				return err
			}
			attempted = true
			err := e.remote(ctx, func(ctx context.Context) error {
				err := e.withClient(ctx, group.ID, func(c forum.Client) error {
					_, err := forum.CallWithRetry(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
						return struct{}{}, forum.BanAuthor(ctx, c, p.ForumID, obj, days)
					})
					return err
				})
				outcome.Banned = err == nil
				outcome.BanError = forum.Reason(err)
				observability.RecordAction("ban", outcome.Banned)
				entry.WithFields(log.Fields{"rule_id": rule.ID, "banned": outcome.Banned, "reason": outcome.BanError}).Info("ban attempted")
				return e.corr.SaveOutcome(ctx, fingerprint, outcome)
			})
			if err != nil {
				return err
			}
		}

		if !actions.Notify.Enabled || (outcome.Notified && !attempted) {
			continue
		}
		sent, err := e.notify(ctx, group, rule, p, obj, outcome)
		if err != nil {
			entry.WithField("rule_id", rule.ID).WithError(err).Warn("notification not delivered")
			continue
		}
		if sent {
			outcome.Notified = true
			if err := e.corr.SaveOutcome(ctx, fingerprint, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// remote runs fn detached from ctx cancellation, bounded by the call timeout.
// An attempt recorded in the ledger is never repeated, so its result must land.
func (e *Executor) remote(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	return fn(ctx)
}

func (e *Executor) withClient(ctx context.Context, groupID int64, fn func(c forum.Client) error) error {
	c, err := e.pool.Get(ctx, groupID)
	if err != nil {
		return err
	}
	return fn(c)
}

func (e *Executor) notify(ctx context.Context, group *db.Group, rule *db.Rule, p Payload, obj forum.Object, o *Outcome) (bool, error) {
	segments := e.render.Render(ctx, rule.Actions.Notify.Template, notify.Report{
		Lang:      group.Language,
		ForumName: group.ForumName,
		RuleName:  rule.Name,
		Object:    obj,
		Delete:    notify.ActionResult{Attempted: o.DeleteAttempted, Succeeded: o.Deleted, Reason: o.DeleteError},
		Ban:       notify.ActionResult{Attempted: o.BanAttempted, Succeeded: o.Banned, Reason: o.BanError, Days: o.BanDays},
	})
	messageID, err := e.sender.Send(ctx, notify.Notice{ChatID: group.ID, Segments: segments})
	observability.RecordAction("notify", err == nil)
	if err != nil {
		return false, err
	}

	ref := correlation.MessageRef{ChatID: group.ID, MessageID: messageID}
	if err := e.corr.Put(ctx, ref, correlation.Entry{
		GroupID:    group.ID,
		ForumID:    p.ForumID,
		ObjectType: p.ObjectType,
		ObjectData: p.ObjectData,
	}); err != nil {
		e.getLogEntry().WithError(err).WithField("message_id", messageID).Warn("correlation not stored, replies to this notice will be ignored")
	}
	return true, nil
}
