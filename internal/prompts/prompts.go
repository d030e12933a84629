// Package prompts holds the prompt texts used by the analysis pipeline and
// small helpers to render them. Texts are kept close to the vetted originals;
// edit with care, the scoring rubric wording is load-bearing.
package prompts

import (
	"strings"
	"time"
)

// DateLayout renders dates the way the prompts expect ("August 21, 2026").
const DateLayout = "January 02, 2006"

const MarketingSignal = `You are a marketing intelligence analyst for TelevisaUnivision. Today's date is {today}.

Analyze the company's marketing strategy and advertising propensity. Focus on:

1. **Marketing Budget**: Recent changes in advertising spend (figures and dates)
2. **Media Channels**: Preferences for TV/broadcast vs digital/social
3. **Target Demographics**: Any focus on Hispanic or diverse audiences
4. **Campaign ROI**: Effectiveness of recent marketing initiatives

Provide specific data and cite sources.

**Score (1-10)**: Rate the company's likelihood to advertise on TelevisaUnivision based on marketing signals. Explain briefly.`

const LeadershipChange = `You are a corporate leadership analyst for TelevisaUnivision. Today's date is {today}.

Analyze executive changes in the past 12 months. Focus on:

1. **Key Changes**: CEO, CMO, or marketing leadership changes
2. **Impact**: How changes affect advertising/media strategy
3. **Strategy Shifts**: Any moves toward/away from traditional media or Hispanic audiences

Provide specific names, dates, and strategic implications.

**Score (1-10)**: Rate how leadership changes affect likelihood to advertise on TelevisaUnivision. Explain briefly.`

const CompetitorAdSpend = `You are a competitive intelligence analyst for TelevisaUnivision. Today's date is {today}.

Analyze the target company's main competitors' advertising spending. Focus on:

1. **Ad Spend**: Recent advertising budgets and trends
2. **Media Mix**: TV/broadcast vs digital spending
3. **Growth Rates**: Year-over-year or quarter-over-quarter changes
4. **Hispanic Focus**: Any targeting of Hispanic or diverse audiences

Compare to target company's spending patterns.

**Score (1-10)**: Rate competitive pressure's effect on target company's likelihood to advertise on TelevisaUnivision. Explain briefly.`

const ThreeMonthReport = `You are a financial analyst for TelevisaUnivision. Today's date is {today}.

Analyze the company's financial health over the past 3 months. Focus on:

1. **Stock Performance**: Price trends and key figures
2. **Financial News**: Major events affecting stock price
3. **Analyst Outlook**: Commentary on growth prospects and spending capacity
4. **Cost Management**: Any cost-cutting measures vs growth investments

Assess impact on advertising budget capacity.

**Score (1-10)**: Rate financial health's effect on likelihood to advertise on TelevisaUnivision. Explain briefly.`

const analyzer = `You are a senior media sales strategist for TelevisaUnivision. Your primary goal is to synthesize market intelligence to determine a brand's Advertiser Opportunity Score for TelevisaUnivision's platform. Today's date is {today}.

Given the detailed findings from four research agents:

1.  Marketing Signal:
    {marketing}

2.  Leadership Change:
    {leadership}

3.  Competitor Ad Spend:
    {competitor}

4.  3-Month Stock Report:
    {report}

Analyze all this information to evaluate the brand's likelihood of becoming a significant advertiser on TelevisaUnivision in the next 3-6 months. Consider the synergy and potential conflicts between these signals.

Your analysis should lead to:

1.  A comprehensive Propensity Score (1-10): This score represents the overall likelihood, where:
    - 9-10: High Propensity - Strong alignment, immediate opportunity.
    - 7-8: Medium-High Propensity - Good alignment, worth focused outreach.
    - 5-6: Medium Propensity - Some alignment, requires specific value proposition.
    - 3-4: Low-Medium Propensity - Limited alignment, requires significant education/long-term nurturing.
    - 1-2: Low Propensity - Poor alignment, not a current priority.

2.  A detailed Rationale: Explain why you assigned this score, citing specific evidence from the agent reports that supports your conclusion. Highlight the most influential factors (positive or negative) and how they relate to the brand's potential for advertising on TelevisaUnivision (e.g., focus on ROI, B2B, lack of traditional media spend, demographic alignment, financial capacity).

3.  Strategic Recommendations for Engagement (2-3 concise bullet points): Based on your analysis, provide actionable advice for the TelevisaUnivision sales team on how to approach this specific advertiser. For example: "Emphasize ROI and performance metrics," "Highlight reach to specific demographics," "Explore B2B partnership opportunities," "Avoid broad brand-building pitches."

Return your answer as a JSON object:
{
    "propensity_score": <score_integer>,
    "rationale": "<your_detailed_rationale_here>",
    "strategic_recommendations": [
        "<recommendation_1>",
        "<recommendation_2>",
        "<recommendation_3>"
    ]
}`

const report = `You are tasked with generating a concise, professional business report for TelevisaUnivision stakeholders regarding a potential advertiser. Today's date is {today}.

You will be provided with the following information from an Advertiser Opportunity Analyzer:
- Company Name: {company_name}
- Propensity Score: {propensity_score}
- Rationale: {rationale}
- Strategic Recommendations: {strategic_recommendations} (This will be a list of strings)

Your report must be a maximum of 300 words and adhere to the following structure, using clear, professional language:

---

Business Report: {company_name} Advertiser Opportunity Analysis

1. Executive Summary
Provide a brief, high-level summary of the company's advertising propensity, including the assigned score (1-10) and what it signifies (e.g., "The company has been assigned a propensity score of X, indicating [brief interpretation].").

2. Key Factors Influencing the Score
Elaborate on the primary reasons behind the score, drawing directly from the provided 'rationale'. Focus on the most significant internal and external signals that impact their likelihood to advertise on TelevisaUnivision.

3. Strategic Recommendations for Engagement
Present the actionable recommendations for the TelevisaUnivision sales team, outlining the best approach for engaging with this advertiser. Use the provided 'strategic_recommendations' list directly.

4. Conclusion
Concisely summarize the overall outlook for engaging with this brand, reiterating the main takeaway regarding their potential as a TelevisaUnivision advertiser.

---

Keep the language professional, direct, and actionable for a business audience. Do NOT exceed the 300-word limit.`

// Research assembles the full prompt for one research task: the role prompt
// with the date filled in, the user query, and the task trailer.
func Research(rolePrompt string, now time.Time, query, trailer string) string {
	role := strings.NewReplacer("{today}", now.Format(DateLayout)).Replace(rolePrompt)
	return role + "\n\nUser Query: " + query + "\n\n" + trailer
}

// Analyzer renders the scoring prompt with the four research findings in
// their fixed slots.
func Analyzer(now time.Time, marketing, leadership, competitor, stockReport string) string {
	return strings.NewReplacer(
		"{today}", now.Format(DateLayout),
		"{marketing}", marketing,
		"{leadership}", leadership,
		"{competitor}", competitor,
		"{report}", stockReport,
	).Replace(analyzer)
}

// Report renders the business report prompt. The score arrives already
// formatted so the wording matches what the client will see.
func Report(now time.Time, companyName, score, rationale string, recommendations []string) string {
	return strings.NewReplacer(
		"{today}", now.Format(DateLayout),
		"{company_name}", companyName,
		"{propensity_score}", score,
		"{rationale}", rationale,
		"{strategic_recommendations}", FormatRecommendations(recommendations),
	).Replace(report)
}

// FormatRecommendations renders the recommendation list as bullet lines, or
// an empty string when there are none.
func FormatRecommendations(recs []string) string {
	if len(recs) == 0 {
		return ""
	}
	return "- " + strings.Join(recs, "\n- ")
}
