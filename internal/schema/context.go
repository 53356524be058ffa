package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Choice fields of the questionnaire. Each is a closed list; the zero value
// means the user left the question unanswered.
type (
	SourceType             string
	Usage                  string
	Surroundings           string
	NoticedIssue           string
	PurificationPreference string
	Urgency                string
)

var SourceTypes = []SourceType{"Tap", "Hand Pump", "Well", "River/Pond", "Stored Tank", "Bottle", "Other"}

var Usages = []Usage{"Drinking", "Cooking", "Bathing", "Cleaning", "Irrigation", "Livestock", "Other"}

var SurroundingsOptions = []Surroundings{"Urban", "Rural", "Industrial", "Agricultural", "Natural", "Unknown"}

var NoticedIssues = []NoticedIssue{
	"Unusual smell", "Color change", "Floating particles",
	"Mosquito larvae", "Oil sheen", "No visible issue",
}

var PurificationPreferences = []PurificationPreference{"Yes", "No", "Unsure"}

var Urgencies = []Urgency{"Routine check", "Suspected contamination", "Emergency use"}

const (
	DefaultPurification PurificationPreference = "Yes"
	DefaultUrgency      Urgency                = "Routine check"
	UrgencyEmergency    Urgency                = "Emergency use"
)

// UserContext is the questionnaire answers for one run.
type UserContext struct {
	SourceType             SourceType             `json:"source_type,omitempty"`
	Usage                  Usage                  `json:"usage,omitempty"`
	Surroundings           Surroundings           `json:"surroundings,omitempty"`
	NoticedIssues          []NoticedIssue         `json:"noticed_issues"`
	PurificationPreference PurificationPreference `json:"purification_preference"`
	Urgency                Urgency                `json:"urgency"`
}

// Answers holds raw, unvalidated questionnaire input.
type Answers struct {
	SourceType   string
	Usage        string
	Surroundings string
	Issues       []string
	Purification string
	Urgency      string
}

// NewUserContext validates raw answers against the choice lists. Empty optional
// answers stay unset; purification and urgency fall back to their defaults.
// Duplicate issues are collapsed.
func NewUserContext(a Answers) (UserContext, error) {
	var uc UserContext
	var err error
	if uc.SourceType, err = pick("source type", a.SourceType, SourceTypes); err != nil {
		return UserContext{}, err
	}
	if uc.Usage, err = pick("usage", a.Usage, Usages); err != nil {
		return UserContext{}, err
	}
	if uc.Surroundings, err = pick("surroundings", a.Surroundings, SurroundingsOptions); err != nil {
		return UserContext{}, err
	}
	if uc.PurificationPreference, err = pick("purification preference", a.Purification, PurificationPreferences); err != nil {
		return UserContext{}, err
	}
	if uc.PurificationPreference == "" {
		uc.PurificationPreference = DefaultPurification
	}
	if uc.Urgency, err = pick("urgency", a.Urgency, Urgencies); err != nil {
		return UserContext{}, err
	}
	if uc.Urgency == "" {
		uc.Urgency = DefaultUrgency
	}

	seen := make(map[NoticedIssue]bool, len(a.Issues))
	for _, raw := range a.Issues {
		issue, err := pick("noticed issue", raw, NoticedIssues)
		if err != nil {
			return UserContext{}, err
		}
		if issue == "" || seen[issue] {
			continue
		}
		seen[issue] = true
		uc.NoticedIssues = append(uc.NoticedIssues, issue)
	}
	return uc, nil
}

// IssuesText joins the noticed issues for prompt rendering, or "None".
func (uc UserContext) IssuesText() string {
	if len(uc.NoticedIssues) == 0 {
		return "None"
	}
	parts := make([]string, len(uc.NoticedIssues))
	for i, n := range uc.NoticedIssues {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

// OrUnset returns s, or "Not specified" when the answer was left blank.
func OrUnset[T ~string](s T) string {
	if s == "" {
		return "Not specified"
	}
	return string(s)
}

// ErrInvalidChoice is wrapped by every questionnaire validation failure.
var ErrInvalidChoice = errors.New("schema: invalid choice")

// pick matches raw case-insensitively against options. An empty raw value
// returns the zero value without error.
func pick[T ~string](field, raw string, options []T) (T, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, o := range options {
		if strings.EqualFold(raw, string(o)) {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q (allowed: %s)", ErrInvalidChoice, field, raw, OptionList(options))
}

// OptionList renders a choice list for help text and error messages.
func OptionList[T ~string](options []T) string {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = string(o)
	}
	return strings.Join(parts, ", ")
}

// Image is the uploaded water photo.
type Image struct {
	Name string
	MIME string
	Data []byte
}

// Empty reports whether no image was supplied.
func (img *Image) Empty() bool {
	return img == nil || len(img.Data) == 0
}
