package decision

import "strings"

// Indicator vocabularies. Matching is a case-insensitive substring count, so
// entries that are prefixes ("experienc", "frustrat") match their inflections.
var (
	factualIndicators = []string{
		"fact", "definition", "is defined", "means that", "according to",
		"statistic", "data", "percent", "located in", "capital", "population",
		"born in", "formula", "equals", "my name is", "address", "phone",
		"email", "version", "price", "cost", "measure", "total",
	}

	experientialIndicators = []string{
		"felt", "feel", "experienc", "remember", "inspired", "enjoyed",
		"visited", "tried", "went to", "i saw", "journey", "moment",
		"adventure", "memories", "lived", "traveled", "travelled",
	}

	emotionalIndicators = []string{
		"happy", "sad", "love", "hate", "angry", "excited", "afraid", "fear",
		"worried", "anxious", "joy", "frustrat", "grateful", "lonely",
		"proud", "upset", "scared", "delight", "disappoint", "nervous",
	}

	conceptualIndicators = []string{
		"concept", "idea", "theory", "philosoph", "principle", "meaning of",
		"abstract", "belief", "perspective", "pattern", "framework",
		"paradigm", "notion", "essence",
	}

	temporalIndicators = []string{
		"today", "tomorrow", "yesterday", "schedule", "deadline", "o'clock",
		"pm", "a.m.", "p.m.", "tonight", "next week", "last week",
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
		"sunday", "january", "february", "march", "april", "june", "july",
		"august", "september", "october", "november", "december",
		"appointment", "date", "calendar",
	}

	importanceIndicators = []string{
		"important", "critical", "urgent", "essential", "never forget",
		"must remember", "vital", "priority", "crucial", "don't forget",
	}
)

// Vocabularies for the vector sub-kind classifier.
var (
	souvenirIndicators = []string{
		"remember", "felt", "experienc", "visited", "went", "saw", "moment",
		"trip", "when i", "that day", "memory",
	}

	impressionIndicators = []string{
		"think", "believe", "opinion", "prefer", "like", "dislike", "seems",
		"impression", "feel that", "should", "best", "worst", "love", "hate",
	}

	themeIndicators = []string{
		"always", "often", "usually", "every time", "pattern", "recurring",
		"tend to", "keeps", "again", "habit", "theme", "whenever",
	}
)

// Query vocabularies used by the auto federation strategy.
var (
	interrogativeIndicators = []string{"what", "when", "where", "who", "how many", "list", "name", "date"}
	experientialQueryWords  = []string{"feel", "experience", "remember", "impression", "like", "similar"}
)

// countOccurrences counts every non-overlapping occurrence of each indicator in
// lowered.
func countOccurrences(lowered string, indicators []string) int {
	total := 0
	for _, ind := range indicators {
		total += strings.Count(lowered, ind)
	}
	return total
}

// countWords counts indicators appearing as whole words (or whole word
// sequences) in the tokenized text.
func countWords(words []string, indicators []string) int {
	total := 0
	for _, ind := range indicators {
		parts := strings.Fields(ind)
		if len(parts) == 0 {
			continue
		}
		for i := 0; i+len(parts) <= len(words); i++ {
			match := true
			for j, p := range parts {
				if words[i+j] != p {
					match = false
					break
				}
			}
			if match {
				total++
			}
		}
	}
	return total
}
