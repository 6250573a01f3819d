package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Route binds the ledgers and signers of one direction.
type Route struct {
	Direction    Direction
	Source       SourceLedger
	Destination  DestinationLedger
	SourceSigner Signer
	DestSigner   Signer
}

// Orchestrator runs the transfer state machine for one direction. It holds no
// per-transfer state; concurrent calls are independent.
type Orchestrator struct {
	config   Config
	route    Route
	fetcher  *AttestationFetcher
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates the pipeline of one direction. recorder may be nil.
func NewOrchestrator(logger *zap.Logger, config Config, route Route, attestations AttestationService, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		config:   config,
		route:    route,
		fetcher:  NewAttestationFetcher(logger, attestations),
		recorder: recorder,
		logger: logger.With(
			zap.String("component", "Orchestrator"),
			zap.String("direction", string(route.Direction))),
		now: time.Now,
	}
}

func (o *Orchestrator) Direction() Direction {
	return o.route.Direction
}

// pipeline is the in-flight state of one transfer.
type pipeline struct {
	snap    Snapshot
	receipt *FinalizedReceipt
	logger  *zap.Logger
}

// NewRequest builds a request for this direction's chains.
func (o *Orchestrator) NewRequest(asset, amount, sender, recipient, label string) (TransferRequest, error) {
	amt, err := ParseAmount(amount)
	if err != nil {
		return TransferRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return NewTransferRequest(o.route.Source.Chain(), o.route.Destination.Chain(), asset, amt, sender, recipient, label), nil
}

// Transfer runs all stages for req. On failure the returned error is a
// *TransferError whose Snapshot can be passed to Resume.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.SenderAddress == "" && o.route.SourceSigner != nil {
		req.SenderAddress = o.route.SourceSigner.Address()
	}
	p := o.newPipeline(Snapshot{
		TransferID: req.ID,
		Direction:  o.route.Direction,
		Request:    req,
	})
	return o.run(ctx, p, StageValidating)
}

// Resume continues a Failed or interrupted snapshot from the first stage
// whose inputs it holds. Completed stages are never replayed.
func (o *Orchestrator) Resume(ctx context.Context, snap Snapshot) (*TransferResult, error) {
	if snap.Direction != o.route.Direction {
		return nil, &TransferError{
			Stage:    snap.FailedStage,
			Kind:     ErrValidation,
			Err:      fmt.Errorf("snapshot direction %q does not match pipeline %q", snap.Direction, o.route.Direction),
			Snapshot: snap,
		}
	}
	if snap.State == StageCompleted {
		return snap.Result(), nil
	}

	if err := CheckResumable(snap); err != nil {
		return nil, &TransferError{Stage: resumeFrom(snap), Kind: ErrNotResumable, Err: err, Snapshot: snap}
	}

	from := resumeFrom(snap)
	snap.FailedStage, snap.Kind, snap.Error = "", "", ""
	p := o.newPipeline(snap)
	p.logger.Info("Resuming transfer", zap.String("fromStage", string(from)))
	return o.run(ctx, p, from)
}

// ResumeFromKey continues a transfer whose source message is known, running
// only the attestation and redemption stages.
func (o *Orchestrator) ResumeFromKey(ctx context.Context, transferID string, key MessageKey, recipient string) (*TransferResult, error) {
	req := NewTransferRequest(o.route.Source.Chain(), o.route.Destination.Chain(), "", nil, "", recipient, "")
	if transferID != "" {
		req.ID = transferID
	}
	snap := Snapshot{
		TransferID:  req.ID,
		Direction:   o.route.Direction,
		State:       StageFailed,
		FailedStage: StageFetchingAttestation,
		Request:     req,
		MessageKey:  &key,
	}
	if recipient != "" {
		if err := ValidateAddress(o.config.Bridges[o.route.Destination.Chain()].Kind, recipient); err != nil {
			return nil, &TransferError{
				Stage:    StageFetchingAttestation,
				Kind:     ErrValidation,
				Err:      fmt.Errorf("recipient: %w", err),
				Snapshot: snap,
			}
		}
	}
	return o.Resume(ctx, snap)
}

func (o *Orchestrator) newPipeline(snap Snapshot) *pipeline {
	return &pipeline{
		snap:   snap,
		logger: o.logger.With(zap.String("transferId", snap.TransferID)),
	}
}

func (o *Orchestrator) run(ctx context.Context, p *pipeline, from Stage) (*TransferResult, error) {
	for stage := from; stage != StageCompleted; stage = stage.next() {
		// Stage boundary: nothing new starts once the caller gave up.
		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, p, stage, &kindError{kind: ErrCancelled, err: fmt.Errorf("before %s: %w", stage, err)})
		}

		p.snap.State = stage
		o.record(ctx, p)
		p.logger.Debug("Entering stage", zap.String("stage", string(stage)))

		if err := o.step(ctx, p, stage); err != nil {
			return nil, o.fail(ctx, p, stage, err)
		}
	}

	p.snap.State = StageCompleted
	o.record(ctx, p)
	p.logger.Info("Transfer completed",
		zap.String("sourceTxID", p.snap.SourceTxID),
		zap.String("destinationTxID", p.snap.DestinationTxID),
		zap.Bool("alreadyRedeemed", p.snap.AlreadyRedeemed))
	return p.snap.Result(), nil
}

func (o *Orchestrator) step(ctx context.Context, p *pipeline, stage Stage) error {
	switch stage {
	case StageValidating:
		return o.validate(p)
	case StageSubmitting:
		return o.submit(ctx, p)
	case StageAwaitingConfirmation:
		return o.awaitConfirmation(ctx, p)
	case StageExtractingSequence:
		return o.extractSequence(p)
	case StageFetchingAttestation:
		return o.fetchAttestation(ctx, p)
	case StageRedeeming:
		return o.redeem(ctx, p)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (o *Orchestrator) validate(p *pipeline) error {
	req := p.snap.Request
	if req.SourceChain != o.route.Source.Chain() || req.DestinationChain != o.route.Destination.Chain() {
		return fmt.Errorf("%w: request routes %d->%d but pipeline %s routes %d->%d", ErrValidation,
			uint16(req.SourceChain), uint16(req.DestinationChain), o.route.Direction,
			uint16(o.route.Source.Chain()), uint16(o.route.Destination.Chain()))
	}
	if err := Validate(req, o.config); err != nil {
		p.logger.Warn("Transfer request rejected", zap.Error(err))
		return err
	}
	p.logger.Info("Transfer request validated",
		zap.String("asset", req.AssetIdentifier),
		zap.String("assetLabel", req.AssetLabel),
		zap.String("amount", req.Amount.String()),
		zap.String("recipient", req.RecipientAddress))
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, p *pipeline) error {
	handle, err := o.route.Source.Submit(ctx, p.snap.Request, o.route.SourceSigner)
	if err != nil {
		return withKind(ErrSubmission, fmt.Errorf("submit on chain %d: %w", uint16(o.route.Source.Chain()), err))
	}
	p.snap.SourceTxID = handle.TxID
	p.logger.Info("Source transaction broadcast", zap.String("sourceTxID", handle.TxID))
	return nil
}

// awaitConfirmation polls the source ledger until the transaction is final.
// It never resubmits: on timeout the tx id stays in the snapshot for re-polling.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, p *pipeline) error {
	handle := SubmissionHandle{Chain: o.route.Source.Chain(), TxID: p.snap.SourceTxID}

	waitCtx, cancel := context.WithTimeout(ctx, o.config.ConfirmationTimeout)
	defer cancel()

	notify := func(attempt int, err error, wait time.Duration) {
		if errors.Is(err, ErrReceiptPending) {
			p.logger.Debug("Waiting for finality", zap.Int("poll", attempt), zap.Duration("nextPoll", wait))
			return
		}
		p.logger.Warn("Receipt lookup failed", zap.Int("poll", attempt), zap.Error(err))
	}

	receipt, err := Retry(waitCtx, o.config.confirmationPolicy(), notify, func(ctx context.Context) (*FinalizedReceipt, error) {
		r, err := o.route.Source.Receipt(ctx, handle)
		if errors.Is(err, ErrReverted) {
			return nil, Permanent(err)
		}
		return r, err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrReverted):
			return withKind(ErrReverted, err)
		case ctx.Err() != nil:
			return &kindError{kind: ErrCancelled, err: fmt.Errorf("await finality of %s: %w", handle.TxID, err)}
		default:
			return &kindError{kind: ErrConfirmationTimeout, err: fmt.Errorf("%s not final after %s: %w", handle.TxID, o.config.ConfirmationTimeout, err)}
		}
	}

	p.receipt = receipt
	p.logger.Info("Source transaction finalized",
		zap.String("sourceTxID", handle.TxID),
		zap.Uint64("height", receipt.Height))
	return nil
}

func (o *Orchestrator) extractSequence(p *pipeline) error {
	bridge, _ := o.config.bridge(o.route.Source.Chain())
	key, err := ExtractMessageKey(p.receipt, bridge)
	p.receipt = nil
	if err != nil {
		return withKind(ErrMalformedReceipt, err)
	}
	p.snap.MessageKey = &key
	p.logger.Info("Message key extracted",
		zap.Uint16("emitterChain", uint16(key.EmitterChain)),
		zap.String("emitter", key.EmitterHex()),
		zap.Uint64("sequence", key.Sequence))
	return nil
}

func (o *Orchestrator) fetchAttestation(ctx context.Context, p *pipeline) error {
	attestation, err := o.fetcher.Fetch(ctx, *p.snap.MessageKey, o.config.attestationPolicy())
	if err != nil {
		return withKind(ErrAttestationTimeout, err)
	}
	p.snap.Attestation = attestation
	return nil
}

func (o *Orchestrator) redeem(ctx context.Context, p *pipeline) error {
	txID, err := o.route.Destination.Redeem(ctx, p.snap.Attestation, p.snap.Request.RecipientAddress, o.route.DestSigner)
	if errors.Is(err, ErrAlreadyRedeemed) {
		p.snap.AlreadyRedeemed = true
		p.logger.Info("Attestation already redeemed on destination; treating transfer as completed")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return &kindError{kind: ErrCancelled, err: fmt.Errorf("redeem on chain %d: %w", uint16(o.route.Destination.Chain()), err)}
		}
		return withKind(ErrRedemption, fmt.Errorf("redeem on chain %d: %w", uint16(o.route.Destination.Chain()), err))
	}
	p.snap.DestinationTxID = txID
	p.logger.Info("Attestation redeemed", zap.String("destinationTxID", txID))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, p *pipeline, stage Stage, err error) error {
	kind := kindOf(err)
	if kind == nil {
		kind = stageKinds[stage]
	}

	p.snap.State = StageFailed
	p.snap.FailedStage = stage
	p.snap.Kind = KindName(kind)
	p.snap.Error = err.Error()
	o.record(ctx, p)

	p.logger.Error("Transfer failed",
		zap.String("stage", string(stage)),
		zap.String("kind", p.snap.Kind),
		zap.String("sourceTxID", p.snap.SourceTxID),
		zap.Stringp("messageKey", messageKeyString(p.snap.MessageKey)),
		zap.Bool("hasAttestation", len(p.snap.Attestation) > 0),
		zap.Error(err))

	return &TransferError{Stage: stage, Kind: kind, Err: err, Snapshot: p.snap}
}

// stageKinds is the default failure kind of each stage.
var stageKinds = map[Stage]error{
	StageValidating:           ErrValidation,
	StageSubmitting:           ErrSubmission,
	StageAwaitingConfirmation: ErrConfirmationTimeout,
	StageExtractingSequence:   ErrMalformedReceipt,
	StageFetchingAttestation:  ErrAttestationTimeout,
	StageRedeeming:            ErrRedemption,
}

func (o *Orchestrator) record(ctx context.Context, p *pipeline) {
	p.snap.UpdatedAt = o.now().UTC()
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), p.snap); err != nil {
		p.logger.Warn("Failed to record transfer snapshot",
			zap.String("state", string(p.snap.State)),
			zap.Error(err))
	}
}

// resumeFrom picks the first stage whose inputs the snapshot holds.
func resumeFrom(snap Snapshot) Stage {
	switch {
	case len(snap.Attestation) > 0:
		return StageRedeeming
	case snap.MessageKey != nil:
		return StageFetchingAttestation
	case snap.SourceTxID != "":
		return StageAwaitingConfirmation
	}
	return StageValidating
}

// CheckResumable returns nil when Resume can continue snap without broadcasting a
// second source transaction.
func CheckResumable(snap Snapshot) error {
	if snap.State == StageCompleted {
		return nil
	}
	if snap.TransferID == "" {
		return errors.New("snapshot has no transfer id")
	}

	stopped := snap.State
	if snap.State == StageFailed {
		stopped = snap.FailedStage
		switch kind := KindFromName(snap.Kind); kind {
		case ErrReverted, ErrMalformedReceipt, ErrValidation, ErrNotResumable:
			return fmt.Errorf("%s at %s is terminal", snap.Kind, stopped)
		case ErrSubmission:
			return errors.New("source submission failed; retry with a fresh request once the source ledger shows no broadcast")
		}
	}

	if resumeFrom(snap) != StageValidating {
		return nil
	}
	switch stopped {
	case StageValidating:
		return nil
	case StageSubmitting:
		// Failed at the boundary, before Submit was called.
		if snap.State == StageFailed && KindFromName(snap.Kind) == ErrCancelled {
			return nil
		}
		return errors.New("interrupted while submitting; the source broadcast outcome is unknown")
	}
	return fmt.Errorf("stopped at %s without a source transaction id", stopped)
}

func messageKeyString(key *MessageKey) *string {
	if key == nil {
		return nil
	}
	s := key.String()
	return &s
}

// WithAttestationAttempts returns a copy of o with a fresh attestation retry
// budget. Resumed transfers use it to extend the wait for guardians.
func (o *Orchestrator) WithAttestationAttempts(n int) *Orchestrator {
	c := *o
	c.config.AttestationMaxAttempts = n
	return &c
}
