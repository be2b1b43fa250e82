package services

import (
	"math"
	"regexp"
	"strings"

	"twinlink/models"
)

type MessageStyle string

const (
	StyleProfessional MessageStyle = "PROFESSIONAL"
	StyleSkillBased   MessageStyle = "SKILL_BASED"
	StyleCasual       MessageStyle = "CASUAL"
)

type MessagePurpose string

const (
	PurposeOpening  MessagePurpose = "opening"
	PurposeFollowUp MessagePurpose = "followup"
)

const defaultTargetLength = 150

// desired sentiment per style when the caller does not give one
var styleSentiment = map[MessageStyle]float64{
	StyleProfessional: 0.4,
	StyleSkillBased:   0.6,
	StyleCasual:       0.8,
}

// TemplatePreconditions gate a template on the context.
type TemplatePreconditions struct {
	MinCompatibility  float64
	HasRecentActivity bool
}

type MessageTemplate struct {
	Style         MessageStyle
	Purpose       MessagePurpose
	Text          string
	Sentiment     float64
	Preconditions TemplatePreconditions
}

// TemplateContext is everything a template can draw from.
type TemplateContext struct {
	Target            *models.Profile
	Sender            *models.Profile // optional
	Purpose           MessagePurpose
	Compatibility     float64
	HasRecentActivity bool
	Stage             models.FollowUpStage
	// DesiredSentiment overrides the style default when set.
	DesiredSentiment *float64
	// Vars adds or overrides placeholder values.
	Vars map[string]string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// TemplateSelector picks and renders message templates. Stateless after
// construction.
type TemplateSelector struct {
	templates    []MessageTemplate
	targetLength int
}

// NewTemplateSelector uses DefaultTemplates when templates is empty.
func NewTemplateSelector(templates []MessageTemplate) *TemplateSelector {
	if len(templates) == 0 {
		templates = DefaultTemplates
	}
	return &TemplateSelector{templates: templates, targetLength: defaultTargetLength}
}

// SelectStyle chooses the communication style for a target profile.
func SelectStyle(target *models.Profile) MessageStyle {
	if target == nil {
		return StyleCasual
	}
	if target.Traits["formality"] > 0.7 || target.Traits["professionalism"] > 0.7 {
		return StyleProfessional
	}
	if target.HasInterest("technical") {
		return StyleSkillBased
	}
	return StyleCasual
}

// Select returns the best template for tc, or false when no template of the
// target's style and the requested purpose passes its preconditions.
func (s *TemplateSelector) Select(tc TemplateContext) (MessageTemplate, bool) {
	style := SelectStyle(tc.Target)
	desired := styleSentiment[style]
	if tc.DesiredSentiment != nil {
		desired = *tc.DesiredSentiment
	}
	vars := templateVars(tc)

	var best MessageTemplate
	bestScore := -1.0
	found := false
	for _, t := range s.templates {
		if t.Style != style || t.Purpose != tc.Purpose {
			continue
		}
		if tc.Compatibility < t.Preconditions.MinCompatibility {
			continue
		}
		if t.Preconditions.HasRecentActivity && !tc.HasRecentActivity {
			continue
		}
		score := s.score(t, vars, desired)
		// strict comparison keeps the earliest declared template on ties
		if score > bestScore {
			best, bestScore, found = t, score, true
		}
	}
	return best, found
}

// Compose selects and renders a message. It returns "" when nothing matched.
func (s *TemplateSelector) Compose(tc TemplateContext) string {
	t, ok := s.Select(tc)
	if !ok {
		return ""
	}
	return renderTemplate(t.Text, templateVars(tc))
}

func (s *TemplateSelector) score(t MessageTemplate, vars map[string]string, desired float64) float64 {
	availability := 1.0
	if names := placeholderRe.FindAllStringSubmatch(t.Text, -1); len(names) > 0 {
		resolved := 0
		for _, m := range names {
			if vars[m[1]] != "" {
				resolved++
			}
		}
		availability = float64(resolved) / float64(len(names))
	}

	sentimentFit := 1 - math.Min(1, math.Abs(t.Sentiment-desired))

	length := len([]rune(renderTemplate(t.Text, vars)))
	lengthFit := 1 - math.Min(1, math.Abs(float64(length-s.targetLength))/float64(s.targetLength))

	return availability*0.5 + sentimentFit*0.3 + lengthFit*0.2
}

// renderTemplate substitutes placeholders; unknown ones become "".
func renderTemplate(text string, vars map[string]string) string {
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
	return strings.Join(strings.Fields(out), " ")
}

func templateVars(tc TemplateContext) map[string]string {
	vars := make(map[string]string)
	if t := tc.Target; t != nil {
		vars["name"] = firstName(t.DisplayName)
		if len(t.Interests) > 0 {
			vars["interest"] = strings.TrimSpace(t.Interests[0])
		}
		if len(t.Expertise) > 0 {
			vars["expertise"] = strings.TrimSpace(t.Expertise[0])
		}
		if len(t.Goals) > 0 {
			vars["goal"] = strings.TrimSpace(t.Goals[0].Category)
		}
		if tc.Sender != nil {
			if shared := sharedTags(tc.Sender.Interests, t.Interests); len(shared) > 0 {
				vars["shared_interest"] = shared[0]
			}
		}
	}
	if tc.Sender != nil {
		vars["sender_name"] = firstName(tc.Sender.DisplayName)
	}
	if tc.Stage != "" {
		vars["stage"] = strings.ToLower(string(tc.Stage))
	}
	for k, v := range tc.Vars {
		vars[k] = v
	}
	return vars
}

func firstName(display string) string {
	if f := strings.Fields(display); len(f) > 0 {
		return f[0]
	}
	return ""
}

// DefaultTemplates is the built-in catalog. Order matters for ties.
var DefaultTemplates = []MessageTemplate{
	// professional
	{
		Style: StyleProfessional, Purpose: PurposeOpening, Sentiment: 0.4,
		Text:          "Hello {{name}}, I noticed we share an interest in {{shared_interest}}. I would welcome the chance to exchange perspectives and learn more about your work.",
		Preconditions: TemplatePreconditions{MinCompatibility: 0.6},
	},
	{
		Style: StyleProfessional, Purpose: PurposeOpening, Sentiment: 0.4,
		Text: "Hello {{name}}, your background in {{expertise}} stood out to me. I would be glad to connect and compare notes on {{goal}}.",
	},
	{
		Style: StyleProfessional, Purpose: PurposeOpening, Sentiment: 0.3,
		Text: "Hello {{name}}, I would like to add you to my network.",
	},
	{
		Style: StyleProfessional, Purpose: PurposeFollowUp, Sentiment: 0.4,
		Text:          "Hello {{name}}, following up on our recent conversation. Would you have time this week to continue the discussion on {{interest}}?",
		Preconditions: TemplatePreconditions{HasRecentActivity: true},
	},
	{
		Style: StyleProfessional, Purpose: PurposeFollowUp, Sentiment: 0.4,
		Text: "Hello {{name}}, I hope things are going well. I wanted to check in and see how your work on {{goal}} is progressing.",
	},
	// skill based
	{
		Style: StyleSkillBased, Purpose: PurposeOpening, Sentiment: 0.6,
		Text:          "Hi {{name}}! Your {{expertise}} experience caught my eye. I have been digging into {{shared_interest}} lately and would love to swap ideas or pair on something.",
		Preconditions: TemplatePreconditions{MinCompatibility: 0.6},
	},
	{
		Style: StyleSkillBased, Purpose: PurposeOpening, Sentiment: 0.6,
		Text: "Hi {{name}}, I saw you work with {{expertise}}. Always keen to meet people building things around {{interest}}. Want to connect?",
	},
	{
		Style: StyleSkillBased, Purpose: PurposeOpening, Sentiment: 0.5,
		Text: "Hi {{name}}, would be great to connect and talk shop.",
	},
	{
		Style: StyleSkillBased, Purpose: PurposeFollowUp, Sentiment: 0.6,
		Text:          "Hey {{name}}, still thinking about what we discussed. Did you get further with {{expertise}}? Happy to share what I have tried on my side.",
		Preconditions: TemplatePreconditions{HasRecentActivity: true},
	},
	{
		Style: StyleSkillBased, Purpose: PurposeFollowUp, Sentiment: 0.6,
		Text: "Hey {{name}}, it has been a while! Working on anything interesting in {{interest}} these days? Would love to hear about it.",
	},
	// casual
	{
		Style: StyleCasual, Purpose: PurposeOpening, Sentiment: 0.8,
		Text:          "Hey {{name}}! Looks like we are both into {{shared_interest}}. That is awesome! Would love to chat about it sometime and hear what got you started.",
		Preconditions: TemplatePreconditions{MinCompatibility: 0.5},
	},
	{
		Style: StyleCasual, Purpose: PurposeOpening, Sentiment: 0.8,
		Text: "Hey {{name}}! Saw you are into {{interest}}. Always fun to meet someone new with good taste, want to connect and chat?",
	},
	{
		Style: StyleCasual, Purpose: PurposeOpening, Sentiment: 0.9,
		Text: "Hey {{name}}! Want to connect?",
	},
	{
		Style: StyleCasual, Purpose: PurposeFollowUp, Sentiment: 0.8,
		Text:          "Hey {{name}}! Really enjoyed our last chat. Anything new with {{interest}} lately? Let me know when you are free to catch up again!",
		Preconditions: TemplatePreconditions{HasRecentActivity: true},
	},
	{
		Style: StyleCasual, Purpose: PurposeFollowUp, Sentiment: 0.8,
		Text: "Hey {{name}}, it has been a little while! How have you been? Would be great to catch up and hear what you have been up to.",
	},
}
