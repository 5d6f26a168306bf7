package pipeline

import "regexp"

// Title rules for the relevance classifier. Negative keywords drop an
// item unless an impact signal overrides the match. Keywords match as
// case-insensitive substrings, in declaration order, first match wins.

var negativeTitleKeywords = []string{
	// entertainment / celebrity
	"movie", "film", "web series", "trailer", "box office", "actor", "actress",
	"bollywood", "tollywood", "kollywood", "entertainment", "celebrity", "music", "album",
	// sports
	"cricket", "ipl", "odi", "t20", "test match", "football", "fifa", "tennis", "badminton",
	"world cup", "asia cup", "olympics", "scorecard", "match preview", "match report",
	// lifestyle / culture
	"recipe", "travel", "tourism", "festival", "fashion", "beauty", "lifestyle", "diet",
	// generic how-to/viral
	"how to", "tips and tricks", "what is", "explained", "viral",
	// pure politics, overridden when impact signals are present
	"election", "elections", "minister", "cabinet", "parliament", "assembly", "campaign", "rally",
	"politics", "political", "chief minister", "prime minister", "pm", "cm", "mla", "mp",
}

// Impact signals that keep a title even after a negative match. They mark
// direct stock/market/company/finance relevance in the title itself.
var impactKeywords = []string{
	// markets/indices
	"stock", "stocks", "share", "shares", "market", "markets", "equity", "equities",
	"nifty", "sensex", "bank nifty", "nse", "bse", "index", "indices", "intraday",
	// corporate actions & events
	"ipo", "fpo", "buyback", "dividend", "split", "bonus", "rights issue", "delisting",
	"merger", "acquisition", "stake", "pledge", "de-pledge", "board meeting",
	// earnings/results/guidance
	"earnings", "results", "q1", "q2", "q3", "q4", "fy", "profit", "loss", "revenue", "ebitda",
	"margin", "guidance", "order book",
	// policy/regulatory/macro affecting markets
	"rbi", "sebi", "gst", "customs duty", "import duty", "export duty", "tariff", "fta",
	"repo rate", "inflation", "gdp", "iip", "cci", "crr", "slr",
	// brokerages/targets/ratings
	"brokerage", "target price", "price target", "rating", "upgrade", "downgrade",
	"overweight", "underweight", "buy", "sell", "accumulate", "hold", "neutral",
	// financing/capex/contracts
	"capex", "debt", "bond", "ncd", "maturity", "refinance", "order win", "contract", "mou",
	"approval", "licence", "license", "patent",
	// product/launch with market angle
	"launch", "unveil", "roll out", "shipments", "pre-orders", "bookings",
}

var impactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Z]{2,12}\.(NS|BO)\b`),
	regexp.MustCompile(`(?i)\b(NSE|BSE|Nifty|Sensex)\b`),
	regexp.MustCompile(`(?i)\b(up|down|rises?|falls?|surges?|slumps?|spikes?|tumbles?)\b`),
	regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s?%\b`),
	regexp.MustCompile(`(?i)(₹|rs\.?|inr)\s?\d+(\.\d+)?\s?(crore|cr|lakh|mn|bn)?`),
	regexp.MustCompile(`(?i)\b(52[- ]week|all[- ]time)\s?(high|low)\b`),
	regexp.MustCompile(`(?i)\b(ipo|fpo|qib|qip|of s|ofs)\b`),
}

// Boilerplate fragments stripped from article bodies before embedding.
var skipPhrasesBody = []string{
	"also read", "read more", "subscribe", "advertisement", "follow us",
	"sign up", "login", "unlock", "premium", "download the app",
	"Add as a Reliable and Trusted News Source",
}

var skipPhrasePatterns = compileSkipPhrasePatterns()

func compileSkipPhrasePatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(skipPhrasesBody))
	for _, phrase := range skipPhrasesBody {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(phrase)))
	}
	return patterns
}
