// Package classifier turns free customer text into an intent with a
// confidence. Classification runs an ordered chain of strategies: cheap
// keyword matching first, then the language model when one is configured.
// A strategy that fails is skipped, so a model outage degrades to keywords.
package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/ai"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/metrics"
)

// Intent is what the customer appears to be asking for.
type Intent string

const (
	IntentNone                  Intent = "none"
	IntentServiceBathroom       Intent = "service_inquiry_bathroom"
	IntentServiceKitchen        Intent = "service_inquiry_kitchen"
	IntentServicePlumbing       Intent = "service_inquiry_plumbing"
	IntentPhotoRequest          Intent = "photo_request"
	IntentPricingObjection      Intent = "pricing_objection"
	IntentTimelineObjection     Intent = "timeline_objection"
	IntentAvailabilityObjection Intent = "availability_objection"
	IntentOther                 Intent = "other"
)

// Confidence is how sure a strategy is about its intent.
type Confidence string

const (
	ConfidenceLow  Confidence = "LOW"
	ConfidenceHigh Confidence = "HIGH"
)

// Tier names, also used as the Source of a Result and as a metrics label.
const (
	TierKeyword = "keyword"
	TierModel   = "model"
	TierDefault = "default"
)

// Result is a classification outcome.
type Result struct {
	Intent     Intent
	Confidence Confidence
	Source     string
}

// Preempts reports whether the result is strong enough to interrupt the
// intake question sequence.
func (r Result) Preempts() bool {
	return r.Intent != IntentNone && r.Confidence == ConfidenceHigh
}

var undecided = Result{Intent: IntentNone, Confidence: ConfidenceLow, Source: TierDefault}

// Strategy is one tier of classification. A strategy that has no opinion
// returns decided=false and the chain moves on.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, text string) (result Result, decided bool, err error)
}

// Chain runs strategies in order; the first decided result wins.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a chain. Nil strategies are dropped.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	c := &Chain{logger: logger}
	for _, s := range strategies {
		if s != nil {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// Classify returns the first decided result, or none/LOW.
func (c *Chain) Classify(ctx context.Context, text string) Result {
	for _, s := range c.strategies {
		result, decided, err := s.Classify(ctx, text)
		if err != nil {
			c.logger.Warn("classifier tier failed, falling back",
				zap.String("tier", s.Name()),
				zap.Error(err),
			)
			continue
		}
		if decided {
			return result
		}
	}
	return undecided
}

// Classifier exposes the questions the conversation asks about a message.
type Classifier struct {
	photo     *Chain
	service   *Chain
	objection *Chain
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a Classifier. A nil completer gives a keyword-only classifier.
func New(completer ai.Completer, logger *zap.Logger, m *metrics.Metrics) *Classifier {
	if logger == nil {
		panic("classifier: logger is required")
	}
	logger = logger.Named("classifier")

	var modelPhoto, modelService Strategy
	if completer != nil {
		modelPhoto = &modelPhotoStrategy{completer: completer}
		modelService = &modelServiceStrategy{completer: completer}
	}

	return &Classifier{
		photo:     NewChain(logger, keywordPhotoStrategy{}, modelPhoto),
		service:   NewChain(logger, keywordServiceStrategy{}, modelService),
		objection: NewChain(logger, keywordObjectionStrategy{}),
		logger:    logger,
		metrics:   m,
	}
}

// IsPhotoRequest reports whether the customer is asking to see past work.
func (c *Classifier) IsPhotoRequest(ctx context.Context, text string) bool {
	return c.run(ctx, c.photo, text).Intent == IntentPhotoRequest
}

// ClassifyService decides whether the message asks about a specific service.
// Callers act on it only when Result.Preempts is true.
func (c *Classifier) ClassifyService(ctx context.Context, text string) Result {
	return c.run(ctx, c.service, text)
}

// ClassifyObjection detects pricing, timeline and availability concerns.
// It is keyword only.
func (c *Classifier) ClassifyObjection(ctx context.Context, text string) Result {
	return c.run(ctx, c.objection, text)
}

// Classify answers the general question in priority order: photo request,
// then service inquiry, then objection.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	if r := c.run(ctx, c.photo, text); r.Intent == IntentPhotoRequest {
		return r
	}
	if r := c.run(ctx, c.service, text); r.Intent != IntentNone {
		return r
	}
	return c.run(ctx, c.objection, text)
}

func (c *Classifier) run(ctx context.Context, chain *Chain, text string) Result {
	r := chain.Classify(ctx, text)
	c.metrics.RecordClassification(r.Source, string(r.Intent))
	return r
}

// ProjectTypeFor maps a service intent onto the lead's project type.
func ProjectTypeFor(intent Intent) (domain.ProjectType, bool) {
	switch intent {
	case IntentServiceBathroom:
		return domain.ProjectBathroom, true
	case IntentServiceKitchen:
		return domain.ProjectKitchen, true
	case IntentServicePlumbing:
		return domain.ProjectNewPlumbing, true
	case IntentOther:
		return domain.ProjectOther, true
	}
	return "", false
}

// MatchProjectType reads a project type from an answer to the service
// question. It is keyword only and never calls the model.
func MatchProjectType(text string) (domain.ProjectType, bool) {
	intent, n := matchServices(normalize(text))
	if n != 1 {
		return "", false
	}
	return ProjectTypeFor(intent)
}
