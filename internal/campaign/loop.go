package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgbroadcast/internal/messaging"
	"tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

// run owns the job from connect to finalization. Finalization (disconnect,
// registry removal, final notice) happens exactly once on every path.
func (d *Dispatcher) run(ctx context.Context, job *Job) {
	log := d.log.With(logx.Int64("account_id", job.AccountID))
	cfg := d.config()

	var (
		client messaging.Client
		reason Reason
		diag   string
	)
	defer func() {
		if r := recover(); r != nil {
			reason = ReasonAuthorizationLost
			diag = fmt.Sprint(r)
			log.Error("campaign loop panicked", logx.Any("panic", r))
		}
		d.finalize(ctx, job, client, reason, diag)
	}()

	var err error
	client, err = d.dialer.Dial(job.credential, d.pick())
	if err != nil {
		reason, diag = ReasonAuthorizationLost, err.Error()
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = client.Connect(cctx)
	var authorized bool
	if err == nil {
		authorized, err = client.IsAuthorized(cctx)
	}
	cancel()
	switch {
	case ctx.Err() != nil:
		reason = ReasonShutdown
		return
	case err != nil:
		reason, diag = ReasonAuthorizationLost, messaging.Message(err)
		return
	case !authorized:
		reason, diag = ReasonAuthorizationLost, "session is not authorized"
		return
	}

	d.notify(ctx, job, EventStarted, Payload{Recipients: len(job.recipients), Duration: job.duration, Delay: job.delay})
	reason, diag = d.loop(ctx, job, client, log)
}

// loop is the send algorithm. It returns when the duration elapsed, a stop
// was requested, the context was cancelled or the session was lost.
func (d *Dispatcher) loop(ctx context.Context, job *Job, client messaging.Client, log logx.Logger) (Reason, string) {
	recipients := job.recipients
	manyNotified := false

	expired := func() bool {
		return d.clock.Now().Sub(job.StartedAt) > job.duration
	}
	// sleep reports false when the wait was cut short by shutdown.
	sleep := func(wait time.Duration) bool {
		return d.clock.Sleep(ctx, wait) == nil
	}

	for {
		if expired() {
			return ReasonTimeExpired, ""
		}
		if len(recipients) == 0 {
			return ReasonCompleted, ""
		}

		next := make([]string, 0, len(recipients))
		progressed := false
		for _, r := range recipients {
			if job.stopRequested() {
				return ReasonStopped, ""
			}
			if ctx.Err() != nil {
				return ReasonShutdown, ""
			}
			if expired() {
				return ReasonTimeExpired, ""
			}

			err := client.Send(ctx, r, job.message)
			if err == nil {
				next = append(next, r)
				progressed = true
				sent := job.sent.Add(1)
				if sent%int64(d.config().ProgressEvery) == 0 {
					d.notify(ctx, job, EventProgress, Payload{Sent: sent, Errors: job.errors.Load(), Remaining: d.remaining(job)})
				}
				if !sleep(job.delay) {
					return ReasonShutdown, ""
				}
				continue
			}
			if ctx.Err() != nil {
				return ReasonShutdown, ""
			}

			var me *messaging.Error
			errors.As(err, &me)
			switch messaging.KindOf(err) {
			case messaging.KindRecipientNotFound:
				// Retried next pass; the handle may be claimed later.
				next = append(next, r)
				log.Debug("recipient not found", logx.String("recipient", r))
				continue
			case messaging.KindRateLimited:
				next = append(next, r)
				progressed = true
				d.notify(ctx, job, EventFloodWait, Payload{Wait: me.Wait})
				if !sleep(me.Wait) {
					return ReasonShutdown, ""
				}
			case messaging.KindRateLimitedGeneric:
				next = append(next, r)
				progressed = true
				wait := d.config().GenericBackoff
				d.notify(ctx, job, EventRateLimited, Payload{Wait: wait})
				if !sleep(wait) {
					return ReasonShutdown, ""
				}
			case messaging.KindFloodControlExceeded:
				next = append(next, r)
				progressed = true
				wait := d.config().FloodControlBackoff
				d.notify(ctx, job, EventFloodControl, Payload{Wait: wait})
				if !sleep(wait) {
					return ReasonShutdown, ""
				}
			case messaging.KindUnauthorized:
				return ReasonAuthorizationLost, messaging.Message(err)
			default:
				next = append(next, r)
				n := job.errors.Add(1)
				log.Debug("send failed", logx.String("recipient", r), logx.Err(err))
				if n > int64(d.config().ManyErrors) && !manyNotified {
					manyNotified = true
					d.notify(ctx, job, EventManyErrors, Payload{Sent: job.sent.Load(), Errors: n})
				}
			}
		}
		recipients = next

		// A pass that neither delivered nor waited would spin; pace it.
		if !progressed && len(recipients) > 0 {
			if !sleep(job.delay) {
				return ReasonShutdown, ""
			}
		}
	}
}

func (d *Dispatcher) finalize(ctx context.Context, job *Job, client messaging.Client, reason Reason, diag string) {
	cfg := d.config()
	bg := context.WithoutCancel(ctx)
	if client != nil {
		dctx, cancel := context.WithTimeout(bg, cfg.DisconnectTimeout)
		if err := client.Disconnect(dctx); err != nil {
			d.log.Debug("disconnect failed", logx.Int64("account_id", job.AccountID), logx.Err(err))
		}
		cancel()
	}
	d.registry.Remove(job.AccountID, job)
	close(job.done)

	if diag != "" {
		diag = tgui.TruncRunes(diag, diagnosticMaxRunes)
	}
	sent, errs := job.sent.Load(), job.errors.Load()
	d.log.Info("campaign finished",
		logx.Int64("account_id", job.AccountID),
		logx.String("reason", string(reason)),
		logx.Int64("sent", sent),
		logx.Int64("errors", errs),
	)
	d.notifier.Notify(bg, job.AccountID, EventFinished, Payload{
		Sent:       sent,
		Errors:     errs,
		Recipients: len(job.recipients),
		Duration:   job.duration,
		Reason:     reason,
		Diagnostic: diag,
	})
}

func (d *Dispatcher) notify(ctx context.Context, job *Job, kind EventKind, p Payload) {
	d.notifier.Notify(context.WithoutCancel(ctx), job.AccountID, kind, p)
}

func (d *Dispatcher) remaining(job *Job) time.Duration {
	rem := job.duration - d.clock.Now().Sub(job.StartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}
