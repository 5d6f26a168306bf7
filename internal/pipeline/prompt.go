package pipeline

import "strings"

// maxPromptBodyChars caps how much article body is sent to the model.
const maxPromptBodyChars = 4000

const structurePromptTemplate = `You are a strict JSON generator.
Output ONLY a valid JSON object (no markdown, no comments).

Your job:
Take a financial news article and convert it into a structured object for direct UI display and MongoDB storage.

JSON FORMAT TO RETURN:
{
  "article_id": "string (REQUIRED - use input id if exists, else generate a unique uuid4)",
  "title": "string",
  "summary": "string (2–4 sentences, clear & factual)",
  "sentiment": {"label": "positive|neutral|negative", "score": 0..1},
  "ui_recommendation": "string (1–2 sentences: key takeaway/actionable insight for users)",
  "impact_analysis": "string (why it matters; likely effect on company/sector/price/market)",
  "category": "Market News|Company Update|Earnings|Regulatory|Macro|Product Launch|Management|Funding|Other",
  "tickers": ["RELIANCE.NS", "TCS.NS"],
  "tags": ["earnings","ipo","rbi","sebi","results","acquisition"],
  "published_at": "ISO datetime string (YYYY-MM-DDTHH:MM:SS format)",
  "source": "string",
  "original_url": "string",
  "body_excerpt": "string (first 200-300 chars of body)"
}

CRITICAL RULES:
1) Output ONLY JSON (single object). No prose, no markdown, no code blocks, no backticks.
2) "article_id" field is REQUIRED and MUST be unique for each article.
3) If tickers cannot be determined, return [].
4) Summary must be objective; no hype.
5) 'category' must be one of the allowed options exactly.
6) 'sentiment.score' must be consistent with label (positive: 0.6-1.0, neutral: 0.4-0.6, negative: 0.0-0.4).
7) 'published_at' must be in ISO format: "YYYY-MM-DDTHH:MM:SS" (e.g., "2025-11-15T13:30:00").
8) Keep 'ui_recommendation' and 'impact_analysis' concise and useful to investors.
9) NEVER include null values - use empty string "" or empty array [] instead.

INPUT ARTICLE:
---TITLE---
{title}
---BODY---
{body}
---SOURCE---
{source}
---URL---
{url}
---PUBLISHED_AT---
{published_at}

Remember: Output ONLY the JSON object, nothing else.
`

// buildStructurePrompt renders the structuring prompt for one item. The
// published_at slot carries the literal word "null" when the source
// never reported a timestamp, matching what the template tells the
// model to expect.
func buildStructurePrompt(item RawItem) string {
	body := item.Body
	if runes := []rune(body); len(runes) > maxPromptBodyChars {
		body = string(runes[:maxPromptBodyChars])
	}

	publishedAt := "null"
	if item.PublishedAt != nil && *item.PublishedAt != "" {
		publishedAt = *item.PublishedAt
	}

	return strings.NewReplacer(
		"{title}", item.Title,
		"{body}", body,
		"{source}", item.Source,
		"{url}", item.URL,
		"{published_at}", publishedAt,
	).Replace(structurePromptTemplate)
}
