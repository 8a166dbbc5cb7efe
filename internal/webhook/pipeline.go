package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lapak-dev/backend-lapak/internal/audit"
	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/gateway"
	"github.com/lapak-dev/backend-lapak/internal/money"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
)

// TxOps is the transaction-scoped storage surface of one commit attempt. The
// order lock, the idempotency re-check, the status write, the audit append
// and the attempt success marker all ride the same transaction.
type TxOps interface {
	order.Store
	HasSuccessfulAttempt(ctx context.Context, gw, gatewayRef string, window time.Duration) (bool, error)
	MarkAttemptSuccess(ctx context.Context, attemptID, orderID string) error
}

// Storage is the durable side of the pipeline. Implemented by the postgres
// store.
type Storage interface {
	HasSuccessfulAttempt(ctx context.Context, gw, gatewayRef string, window time.Duration) (bool, error)
	// FindOrderByGatewayRef resolves the order that already recorded this
	// correlation id, or ErrOrderNotFound. Unlike the attempt lookup it is
	// not windowed: the order row remembers the reference forever.
	FindOrderByGatewayRef(ctx context.Context, gw, gatewayRef string) (order.Order, error)
	InTx(ctx context.Context, fn func(TxOps) error) error
}

// Processor runs the full ingestion pipeline for one inbound callback:
// verify, normalize, guard, validate, commit with retries, dispatch.
type Processor struct {
	Gateways map[string]gateway.Gateway
	Storage  Storage
	Audit    audit.Recorder
	Guard    Guard
	Machine  order.Machine
	Breaker  *resilience.Breaker
	Retry    resilience.RetryPolicy
	Events   *events.Bus
	Validate *validator.Validate

	// IdempotencyWindow bounds the durable duplicate lookup. Zero means the
	// whole attempt history counts.
	IdempotencyWindow time.Duration
	// Timeout caps end-to-end processing including retries.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Receipt is what a processed callback yields to the HTTP layer.
type Receipt struct {
	AckBody   string
	Duplicate bool
	NoOp      bool
}

// Process runs the pipeline. A nil error means the gateway must receive a
// 200 with Receipt.AckBody; duplicates and benign no-ops are successes from
// the gateway's point of view.
func (p *Processor) Process(ctx context.Context, gatewayName string, headers http.Header, body []byte, sourceIP, requestID string) (Receipt, error) {
	gw, ok := p.Gateways[strings.ToLower(strings.TrimSpace(gatewayName))]
	if !ok {
		p.count(gatewayName, "unknown_gateway", time.Time{})
		return Receipt{}, ErrUnknownGateway
	}
	name := gw.Name()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("webhook").Start(ctx, "webhook.process")
	span.SetAttributes(attribute.String("payment.gateway", name))
	defer span.End()

	start := time.Now()

	vr := gw.Verify(headers, body)
	attemptID := p.Audit.Record(ctx, audit.Attempt{
		Gateway:        name,
		RawPayload:     body,
		PayloadHash:    common.Sha256Hex(string(body)),
		SignatureValid: vr.Valid,
		SourceIP:       sourceIP,
	})

	fail := func(appErr *common.AppError, cause error, detail, gatewayRef string) (Receipt, error) {
		err := appErr
		if cause != nil {
			err = appErr.WithErr(cause)
		}
		p.Audit.Finalize(ctx, attemptID, audit.ResultFailed, err.Code, detail, "")
		if gatewayRef != "" {
			p.Guard.Release(ctx, name, gatewayRef)
		}
		span.RecordError(err)
		p.count(name, "failed", start)
		return Receipt{}, err
	}

	if vr.Err != nil && errors.Is(vr.Err, gateway.ErrStaleTimestamp) {
		return fail(ErrReplayExpired, vr.Err, vr.Err.Error(), "")
	}
	if !vr.Valid {
		detail := vr.Method
		if vr.Err != nil {
			detail = fmt.Sprintf("%s: %v", vr.Method, vr.Err)
		}
		return fail(ErrSignatureInvalid, vr.Err, detail, "")
	}

	cb, err := gw.Normalize(body)
	if err != nil {
		return fail(ErrMalformedPayload, err, err.Error(), "")
	}
	p.Audit.SetGatewayRef(ctx, attemptID, cb.GatewayRef)
	if p.Validate != nil {
		if err := p.Validate.Struct(cb); err != nil {
			return fail(ErrMalformedPayload, err, err.Error(), "")
		}
	}
	span.SetAttributes(attribute.String("payment.gateway_ref", cb.GatewayRef))

	// A pending outcome confirms receipt but changes nothing: the order was
	// created pending.
	if cb.Outcome == gateway.OutcomePending {
		p.Audit.Finalize(ctx, attemptID, audit.ResultReceived, "", "", "")
		p.count(name, "noop", start)
		return Receipt{AckBody: gw.AckBody(), NoOp: true}, nil
	}

	duplicate := func() (Receipt, error) {
		p.Audit.Finalize(ctx, attemptID, audit.ResultDuplicate, "", "", "")
		p.count(name, "duplicate", start)
		p.Logger.Info().
			Str("gateway", name).
			Str("gateway_ref", cb.GatewayRef).
			Msg("duplicate callback acknowledged")
		return Receipt{AckBody: gw.AckBody(), Duplicate: true}, nil
	}

	if done, err := p.Storage.HasSuccessfulAttempt(ctx, name, cb.GatewayRef, p.IdempotencyWindow); err == nil && done {
		return duplicate()
	}
	// Second durable check: an order that already carries this correlation id
	// was moved by an earlier callback, even one outside the attempt window.
	if o, err := p.Storage.FindOrderByGatewayRef(ctx, name, cb.GatewayRef); err == nil && o.Status != order.StatusPending {
		return duplicate()
	}
	if !p.Guard.Reserve(ctx, name, cb.GatewayRef) {
		// The fast path flags a replay but Redis is advisory only: confirm
		// against storage before acknowledging.
		done, err := p.Storage.HasSuccessfulAttempt(ctx, name, cb.GatewayRef, p.IdempotencyWindow)
		if err == nil && done {
			return duplicate()
		}
	}

	target := targetStatus(cb.Outcome)
	var tr order.Transition
	commit := func(ctx context.Context) error {
		return p.Storage.InTx(ctx, func(tx TxOps) error {
			o, err := tx.GetOrderForUpdate(ctx, cb.OrderRef)
			if err != nil {
				return err
			}
			done, err := tx.HasSuccessfulAttempt(ctx, name, cb.GatewayRef, p.IdempotencyWindow)
			if err != nil {
				return err
			}
			if done || o.Status == target {
				return ErrDuplicateReplay
			}
			// The locked row already recorded this correlation id and has
			// moved past the target since. Gateways replay old callbacks well
			// beyond the attempt window; answer them as duplicates, not as
			// illegal transitions.
			if o.GatewayRef != "" && o.GatewayRef == cb.GatewayRef {
				return ErrDuplicateReplay
			}
			if err := p.validateAmount(o, cb, target); err != nil {
				return err
			}
			res, err := p.Machine.Apply(ctx, tx, order.TransitionRequest{
				OrderID:    o.ID,
				To:         target,
				Actor:      order.ActorWebhook,
				GatewayRef: cb.GatewayRef,
				RawPayload: body,
				RequestID:  requestID,
			})
			if err != nil {
				return err
			}
			if attemptID != "" {
				if err := tx.MarkAttemptSuccess(ctx, attemptID, o.ID); err != nil {
					return err
				}
			}
			tr = res
			return nil
		})
	}

	err = resilience.Retry(ctx, p.Retry, func(ctx context.Context) error {
		var err error
		if p.Breaker != nil {
			err = p.Breaker.Do(ctx, commit)
		} else {
			err = commit(ctx)
		}
		if err != nil && errors.Is(err, ErrDuplicateReplay) {
			// A replay surfacing mid-commit is a final answer, not a
			// transient failure.
			return errReplayFinal.WithErr(err)
		}
		return err
	}, func(int, error) {
		if obs.CommitRetryTotal != nil {
			obs.CommitRetryTotal.WithLabelValues(name).Inc()
		}
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReplay) {
			return duplicate()
		}
		if errors.Is(err, resilience.ErrOpenCircuit) ||
			errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = ErrTransientStorage.WithErr(err)
		}
		if app, ok := common.AsAppError(err); ok {
			return fail(app, app.Err, app.Message, cb.GatewayRef)
		}
		return fail(ErrTransientStorage, err, err.Error(), cb.GatewayRef)
	}

	p.count(name, "success", start)
	p.Logger.Info().
		Str("gateway", name).
		Str("gateway_ref", cb.GatewayRef).
		Str("order_id", tr.Order.ID).
		Str("from_status", string(tr.Previous)).
		Str("to_status", string(tr.New)).
		Strs("actions", tr.Actions).
		Msg("callback processed")
	if p.Events != nil {
		p.Events.Dispatch(ctx, tr, order.ActorWebhook, requestID)
	}
	return Receipt{AckBody: gw.AckBody()}, nil
}

// validateAmount cross-checks the gateway-reported amount and currency
// against the order before a paid transition. Tolerance absorbs gateway
// rounding; anything beyond it is rejected.
func (p *Processor) validateAmount(o order.Order, cb gateway.Callback, target order.Status) error {
	if target != order.StatusPaid {
		return nil
	}
	if o.Currency != "" && cb.Currency != "" && !strings.EqualFold(o.Currency, cb.Currency) {
		return ErrAmountMismatch.WithErr(
			fmt.Errorf("currency %s reported for %s order", cb.Currency, o.Currency))
	}
	if !money.WithinTolerance(o.Amount, cb.Amount) {
		return ErrAmountMismatch.WithErr(
			fmt.Errorf("order expects %d minor units, gateway reported %d", o.Amount, cb.Amount))
	}
	return nil
}

func targetStatus(outcome gateway.Outcome) order.Status {
	switch outcome {
	case gateway.OutcomePaid:
		return order.StatusPaid
	case gateway.OutcomeCancelled:
		return order.StatusCancelled
	case gateway.OutcomeFailed:
		return order.StatusFailed
	default:
		return ""
	}
}

func (p *Processor) count(gw, result string, start time.Time) {
	if obs.WebhookCallbackTotal != nil {
		obs.WebhookCallbackTotal.WithLabelValues(gw, result).Inc()
	}
	if obs.WebhookCallbackLatency != nil && !start.IsZero() {
		obs.WebhookCallbackLatency.WithLabelValues(gw, result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
