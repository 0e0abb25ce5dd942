package evaluator

// Templates use {title}, {summary} and {content_preview}; batch templates use {articles_info}.

const defaultSystemPrompt = `You are an analyst screening technology news for a regional science and technology policy office. You answer with JSON only.`

const scoringDimensions = `Score the article on three dimensions, each from 0 to 10:

1. Relevance (0-10): how closely the article relates to regional science and technology policy, and its value as a reference for policy making.
2. Innovation impact (0-10): how much the technology or event pushes innovation forward, and how novel it is.
3. Practicality (0-10): how actionable the content is and how useful it is for practical work in the short term.`

const evaluationPromptTemplate = `Evaluate the following article.

Title: {title}
Summary: {summary}
Content preview: {content_preview}

` + scoringDimensions + `

Return the result in this JSON format:
{
    "relevance_score": <relevance score>,
    "innovation_impact": <innovation impact score>,
    "practicality": <practicality score>,
    "total_score": <sum of the three scores>,
    "reasoning": "<specific reasoning for each dimension>",
    "confidence": <confidence between 0 and 1>
}

The total score is the sum of the three dimension scores (maximum 30).`

const batchEvaluationPromptTemplate = `Evaluate each of the following articles.

{articles_info}

` + scoringDimensions + `

Return a JSON array with one object per article, in this format:
[
    {
        "article_index": 0,
        "relevance_score": <score>,
        "innovation_impact": <score>,
        "practicality": <score>,
        "total_score": <sum>,
        "reasoning": "<reasoning>",
        "confidence": <confidence>
    }
]`

// strictJSONNote is appended for providers that tend to wrap answers in markdown.
const strictJSONNote = `

Return valid JSON only. Do not use markdown code fences or add any other text.`

const enrichedEvaluationPromptTemplate = `Analyse the following article in depth.

Title: {title}
Summary: {summary}
Content preview: {content_preview}

` + scoringDimensions + `

Besides the scores, provide a short summary, key insights, highlights, technology tags, a detailed analysis per dimension, the recommendation reason, a risk assessment and implementation suggestions.

Return the result strictly in this JSON format:
{
    "relevance_score": <relevance score>,
    "innovation_impact": <innovation impact score>,
    "practicality": <practicality score>,
    "total_score": <sum of the three scores>,
    "reasoning": "<detailed reasoning>",
    "confidence": <confidence between 0 and 1>,
    "summary": "<core content in under 100 words>",
    "key_insights": ["<insight>", "<insight>", "<insight>"],
    "highlights": ["<highlight>", "<highlight>"],
    "tags": ["<tag>", "<tag>", "<tag>"],
    "detailed_analysis": {
        "relevance": "<analysis>",
        "innovation": "<analysis>",
        "practicality": "<analysis>"
    },
    "recommendation_reason": "<why this article is recommended>",
    "risk_assessment": "<risks or caveats>",
    "implementation_suggestions": ["<suggestion>", "<suggestion>"]
}`

const enrichedBatchPromptTemplate = `Analyse each of the following articles in depth.

{articles_info}

` + scoringDimensions + `

Return a JSON array with one object per article, in this format:
[
    {
        "article_index": 0,
        "relevance_score": <score>,
        "innovation_impact": <score>,
        "practicality": <score>,
        "total_score": <sum>,
        "reasoning": "<reasoning>",
        "confidence": <confidence>,
        "summary": "<summary>",
        "tags": ["<tag>", "<tag>"],
        "recommendation_reason": "<reason>"
    }
]`
