package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkindrix/plumbot/internal/ai"
)

// minModelWords keeps greetings and one-word answers away from the model.
const minModelWords = 3

const serviceSystemPrompt = `You classify WhatsApp messages sent to a plumbing and renovation company.
Decide whether the customer is asking about one of these services:
BATHROOM - bathroom renovation, showers, toilets, tubs, vanities
KITCHEN - kitchen renovation, kitchen sinks, kitchen plumbing
PLUMBING - new plumbing installation for a new or existing building
OTHER - some other plumbing job
NONE - not asking about a service (greetings, questions about price, small talk)

Answer with exactly two words: CATEGORY CONFIDENCE
CONFIDENCE is HIGH only when the service is clearly stated, otherwise LOW.
Example: BATHROOM HIGH`

const photoSystemPrompt = `You classify WhatsApp messages sent to a plumbing and renovation company.
Is the customer asking to see photos or examples of work the company has done?
Answer with exactly one word: YES or NO`

var modelCategories = map[string]Intent{
	"BATHROOM": IntentServiceBathroom,
	"KITCHEN":  IntentServiceKitchen,
	"PLUMBING": IntentServicePlumbing,
	"OTHER":    IntentOther,
	"NONE":     IntentNone,
}

// modelServiceStrategy asks the model for a service category. Any answer
// it can parse is final.
type modelServiceStrategy struct {
	completer ai.Completer
}

func (s *modelServiceStrategy) Name() string { return TierModel }

func (s *modelServiceStrategy) Classify(ctx context.Context, text string) (Result, bool, error) {
	if wordCount(normalize(text)) < minModelWords {
		return Result{}, false, nil
	}
	out, err := s.completer.Complete(ctx, ai.Request{
		System:      serviceSystemPrompt,
		User:        text,
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return Result{}, false, err
	}
	result, err := parseServiceAnswer(out)
	if err != nil {
		return Result{}, false, err
	}
	return result, true, nil
}

func parseServiceAnswer(out string) (Result, error) {
	fields := strings.Fields(strings.ToUpper(strings.Trim(out, " \t\n.`\"")))
	if len(fields) == 0 {
		return Result{}, fmt.Errorf("empty model answer")
	}
	intent, ok := modelCategories[strings.Trim(fields[0], ".,:")]
	if !ok {
		return Result{}, fmt.Errorf("unexpected model category %q", fields[0])
	}
	confidence := ConfidenceLow
	if len(fields) > 1 && strings.Trim(fields[1], ".,:") == string(ConfidenceHigh) {
		confidence = ConfidenceHigh
	}
	return Result{Intent: intent, Confidence: confidence, Source: TierModel}, nil
}

// modelPhotoStrategy asks the model a yes/no question, but only for
// messages that mention pictures without using a known request phrase.
type modelPhotoStrategy struct {
	completer ai.Completer
}

func (s *modelPhotoStrategy) Name() string { return TierModel }

func (s *modelPhotoStrategy) Classify(ctx context.Context, text string) (Result, bool, error) {
	norm := normalize(text)
	if wordCount(norm) < minModelWords || !containsAny(norm, photoHints) {
		return Result{}, false, nil
	}
	out, err := s.completer.Complete(ctx, ai.Request{
		System:      photoSystemPrompt,
		User:        text,
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return Result{}, false, err
	}
	answer := strings.ToUpper(strings.Trim(strings.TrimSpace(out), ".!`\""))
	switch {
	case strings.HasPrefix(answer, "YES"):
		return Result{Intent: IntentPhotoRequest, Confidence: ConfidenceHigh, Source: TierModel}, true, nil
	case strings.HasPrefix(answer, "NO"):
		return Result{Intent: IntentNone, Confidence: ConfidenceHigh, Source: TierModel}, true, nil
	}
	return Result{}, false, fmt.Errorf("unexpected model answer %q", out)
}
