// ABOUTME: Deterministic extraction of names, emails and intent from message text
// ABOUTME: Pattern and whole-word keyword based; no model calls

package leads

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var namePattern = regexp.MustCompile(`(?i)\b(my name is|my name's|i'm|i am|im|call me|this is)\s+([\p{L}][\p{L}'\-]{1,29})`)

var nextWordPattern = regexp.MustCompile(`^[\s,]+([\p{L}.]+)`)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// nameStoplist holds words that follow "I'm"/"this is" without being a name.
var nameStoplist = wordSet(
	"a", "an", "the", "not", "just", "so", "very", "really", "quite", "too", "only",
	"here", "there", "fine", "good", "great", "ok", "okay", "well", "all", "done",
	"interested", "glad", "happy", "sorry", "sure", "new", "back", "from", "with",
	"in", "on", "at", "about", "regarding", "your", "my", "our", "his", "her", "their",
	"also", "still", "currently", "available", "ready", "busy", "free", "away", "out",
	"urgent", "important", "it", "that", "what", "this", "customer", "client", "owner",
	"manager", "hi", "hello", "hey", "curious", "unable", "able", "keen", "eager",
	"excited", "concerned", "confused", "unsure", "uncertain", "aware", "unaware",
	"based", "located", "local", "frustrated", "disappointed", "satisfied", "unhappy",
	"worried", "afraid", "late", "early", "after", "for", "to", "into", "like",
	"having", "being", "going", "doing", "getting", "no", "yes", "already", "almost",
	"probably", "definitely", "actually", "literally", "kind", "sort", "bit", "little",
	"planning", "hoping", "needing", "wanting", "asking", "calling", "writing",
	"messaging", "reaching", "texting", "inquiring", "enquiring", "following",
)

// companySuffixes mark "this is Acme Corp" as an organization rather than a person.
var companySuffixes = wordSet(
	"corp", "corp.", "corporation", "inc", "inc.", "ltd", "ltd.", "llc", "co", "co.",
	"company", "group", "team", "support", "services", "solutions", "store", "shop",
	"limited", "gmbh", "plc", "pvt", "technologies", "tech", "enterprises",
	"industries", "agency", "studio", "studios", "bank", "clinic", "hotel", "labs",
)

// intentWords mark a wish to buy, book or be contacted.
var intentWords = wordSet(
	"book", "books", "booking", "bookings", "booked",
	"buy", "buying", "purchase", "purchases", "purchasing",
	"price", "prices", "pricing", "priced", "cost", "costs", "costing",
	"quote", "quotes", "quotation", "quotations",
	"contact", "contacting", "demo", "demos", "proposal", "proposals",
	"order", "orders", "ordering",
	"subscribe", "subscribing", "subscription", "subscriptions",
	"trial", "trials", "appointment", "appointments",
	"schedule", "scheduling", "hire", "hiring",
	"sign", "signup", "enrol", "enroll", "enrolling", "enrollment", "enrolment",
	"reserve", "reserving", "reservation", "reservations",
	"consult", "consultation", "consultations", "callback",
	"invoice", "invoices", "package", "packages", "plan", "plans",
)

// detailWords mark questions that need a follow-up with details.
var detailWords = wordSet(
	"technical", "custom", "customize", "customise", "customized", "customised",
	"customization", "customisation", "timeline", "timelines",
	"integrate", "integrates", "integrating", "integration", "integrations",
	"requirement", "requirements", "specification", "specifications", "specs",
	"deadline", "deadlines", "budget", "budgets", "enterprise",
	"deploy", "deploying", "deployment", "migrate", "migrating", "migration",
	"scope", "scoping", "bulk", "volume", "volumes", "api", "apis",
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// ExtractName returns the first plausible name introduced in text.
func ExtractName(text string) (string, bool) {
	for _, m := range namePattern.FindAllStringSubmatchIndex(text, -1) {
		intro := strings.ToLower(text[m[2]:m[3]])
		candidate := strings.Trim(text[m[4]:m[5]], "'-")
		if !plausibleName(intro, candidate) {
			continue
		}
		if next := nextWordPattern.FindStringSubmatch(text[m[1]:]); next != nil {
			if _, org := companySuffixes[strings.ToLower(next[1])]; org {
				continue
			}
		}
		return capitalize(candidate), true
	}
	return "", false
}

func plausibleName(intro, candidate string) bool {
	if utf8.RuneCountInString(candidate) < 2 {
		return false
	}
	lower := strings.ToLower(candidate)
	if _, stop := nameStoplist[lower]; stop {
		return false
	}
	switch intro {
	case "my name is", "my name's", "call me":
		return true
	}
	// After "I'm"/"this is" a long -ing word is a verb, not a name.
	return !(strings.HasSuffix(lower, "ing") && utf8.RuneCountInString(lower) > 4)
}

// ExtractEmail returns the first email address in text, lowercased.
func ExtractEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToLower(strings.TrimRight(m, ".")), true
}

// HasIntent reports whether text matches the lead-capture intent set.
func HasIntent(text string) bool {
	return matchWords(text, intentWords)
}

// NeedsDetail reports whether text matches the needs-detail set.
func NeedsDetail(text string) bool {
	return matchWords(text, detailWords)
}

func matchWords(text string, set map[string]struct{}) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
