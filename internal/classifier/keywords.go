package classifier

import (
	"context"
	"strings"
	"unicode"
)

// Keyword lists cover English plus common Shona and Ndebele phrasing.
// Entries match at the start of a word, so "bath" also matches "bathroom".
var (
	photoRequestPhrases = []string{
		"see your work", "see some of your work", "see examples",
		"your portfolio", "portfolio", "previous work", "past work", "previous projects",
		"past projects", "work you have done", "work you ve done", "jobs you have done",
		"photos of your", "pictures of your", "pics of your", "images of your",
		"send me photos", "send me pictures", "send me pics", "send photos", "send pictures",
		"do you have photos", "do you have pictures", "any photos", "any pictures",
		// Shona: pictures of work, show me, I want to see
		"mifananidzo yebasa", "ndiratidze", "ndoda kuona",
		// Ndebele: pictures, show me, I want to see
		"izithombe", "ngitshengisa", "ngifuna ukubona",
	}

	// showMeNouns turn "show me ..." into a photo request; "show me the
	// price" stays a pricing question.
	showMeNouns = []string{
		"photo", "picture", "pic", "image", "your work", "some of your", "example",
		"job", "project", "bathroom", "kitchen", "installation", "what you",
	}

	// photoHints make a message worth asking the model about when no
	// request phrase matched.
	photoHints = []string{"photo", "picture", "pic", "image", "gallery", "example", "mufananidzo", "mifananidzo"}

	serviceKeywords = map[Intent][]string{
		IntentServiceBathroom: {
			"bathroom", "bath", "shower", "toilet", "vanity", "basin", "tub", "en suite", "ensuite",
			// Shona
			"bhavhu", "chimbuzi", "imba yekugezera",
			// Ndebele
			"indlu yokugezela", "ithoyilethi",
		},
		IntentServiceKitchen: {
			"kitchen", "kitchen sink", "dishwasher", "scullery",
			// Shona
			"kicheni",
			// Ndebele
			"ikhitshi",
		},
		IntentServicePlumbing: {
			"new plumbing", "plumbing installation", "install plumbing", "plumbing for my new",
			"new house", "new build", "pipes", "piping", "pipework", "geyser", "water tank", "borehole",
			// Shona
			"mapaipi", "pombi",
			// Ndebele
			"amapayipi",
		},
	}

	objectionKeywords = map[Intent][]string{
		IntentPricingObjection: {
			"how much", "price", "pricing", "cost", "quote", "quotation", "expensive", "cheap",
			"afford", "budget", "rates", "charge",
			// Shona: how much, money, too much money
			"imarii", "marii", "mari yakawanda",
			// Ndebele: how much, money
			"malini", "yimalini", "imali",
		},
		IntentTimelineObjection: {
			"how long", "how soon", "too long", "take long", "takes long", "long will it take",
			"how many days", "how many weeks", "when will you finish", "when will it be done",
			// Shona: how long will it take
			"zvichatora nguva yakareba sei",
			// Ndebele: how long will it take
			"kuzathatha isikhathi esingakanani",
		},
		IntentAvailabilityObjection: {
			"are you available", "availability", "when are you free", "are you free",
			"when can you come", "when can you start", "do you work on", "do you work weekends",
			"are you open", "fully booked", "are you busy",
			// Shona: are you there, are you available
			"muripo here", "munowanikwa",
			// Ndebele: are you available
			"liyatholakala",
		},
	}
)

// normalize lowercases, turns every non-letter/digit into a space and pads
// the result so phrase matching can anchor on word starts.
func normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// containsAny reports whether norm (from normalize) contains any keyword
// starting at a word boundary.
func containsAny(norm string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(norm, " "+kw) {
			return true
		}
	}
	return false
}

func wordCount(norm string) int {
	return len(strings.Fields(norm))
}

// keywordPhotoStrategy decides "photo request" on an explicit phrase and
// declines everything else.
type keywordPhotoStrategy struct{}

func (keywordPhotoStrategy) Name() string { return TierKeyword }

func (keywordPhotoStrategy) Classify(_ context.Context, text string) (Result, bool, error) {
	norm := normalize(text)
	if containsAny(norm, photoRequestPhrases) || isShowMeWork(norm) {
		return Result{Intent: IntentPhotoRequest, Confidence: ConfidenceHigh, Source: TierKeyword}, true, nil
	}
	return Result{}, false, nil
}

// isShowMeWork reports whether "show me" is followed by something we can
// send pictures of.
func isShowMeWork(norm string) bool {
	i := strings.Index(norm, " show me ")
	if i < 0 {
		return false
	}
	return containsAny(norm[i+len(" show me"):], showMeNouns)
}

// keywordServiceStrategy decides when exactly one service family matches.
// Mixed matches ("bathroom and kitchen") are left to the next tier.
type keywordServiceStrategy struct{}

func (keywordServiceStrategy) Name() string { return TierKeyword }

func (keywordServiceStrategy) Classify(_ context.Context, text string) (Result, bool, error) {
	intent, n := matchServices(normalize(text))
	if n == 1 {
		return Result{Intent: intent, Confidence: ConfidenceHigh, Source: TierKeyword}, true, nil
	}
	return Result{}, false, nil
}

// serviceOrder fixes iteration order over serviceKeywords.
var serviceOrder = []Intent{IntentServiceBathroom, IntentServiceKitchen, IntentServicePlumbing}

func matchServices(norm string) (Intent, int) {
	var (
		first Intent = IntentNone
		n     int
	)
	for _, intent := range serviceOrder {
		if containsAny(norm, serviceKeywords[intent]) {
			if n == 0 {
				first = intent
			}
			n++
		}
	}
	return first, n
}

// objectionOrder fixes precedence when a message raises several concerns.
var objectionOrder = []Intent{IntentPricingObjection, IntentTimelineObjection, IntentAvailabilityObjection}

// keywordObjectionStrategy is the only objection tier.
type keywordObjectionStrategy struct{}

func (keywordObjectionStrategy) Name() string { return TierKeyword }

func (keywordObjectionStrategy) Classify(_ context.Context, text string) (Result, bool, error) {
	norm := normalize(text)
	for _, intent := range objectionOrder {
		if containsAny(norm, objectionKeywords[intent]) {
			return Result{Intent: intent, Confidence: ConfidenceHigh, Source: TierKeyword}, true, nil
		}
	}
	return Result{}, false, nil
}
