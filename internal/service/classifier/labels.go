package classifier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"care-transcript-relay/internal/models"
)

// Label group prefixes. A label belongs to a group when its name starts with the prefix.
const (
	prefixObservation = "observation"
	prefixActivity    = "activity"
)

// ErrInvalidLabels is returned when a label set cannot be used for classification.
var ErrInvalidLabels = errors.New("invalid label set")

// Label is one candidate label. Keywords are only used by the keyword scorer.
type Label struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// LabelSet is the fixed candidate label set scored for every sentence.
type LabelSet struct {
	Labels []Label `yaml:"labels"`
}

// DefaultLabels returns the built-in clinical label set.
func DefaultLabels() LabelSet {
	return LabelSet{Labels: []Label{
		{
			Name:     "observation of patient symptoms",
			Keywords: []string{"cough", "coughed", "coughing", "fever", "pain", "rash", "vomit", "vomited", "nausea", "headache", "sore", "swelling", "swollen", "wheezing", "congested", "diarrhea", "dizzy", "bleeding", "seizure", "itchy"},
		},
		{
			Name:     "observation of patient emotional states",
			Keywords: []string{"happy", "sad", "anxious", "upset", "angry", "calm", "cheerful", "crying", "cried", "frustrated", "scared", "worried", "agitated", "content", "mood", "laughed", "smiled", "lonely"},
		},
		{
			Name:     "observation of patient behaviors",
			Keywords: []string{"refused", "cooperative", "uncooperative", "wandered", "restless", "slept", "sleeping", "yelled", "pacing", "withdrawn", "tired", "confused", "seemed"},
		},
		{
			Name:     "observation of patient health-related conditions",
			Keywords: []string{"weight", "blood", "pressure", "temperature", "sugar", "oxygen", "pulse", "skin", "wound", "appetite", "breathing", "bowel", "worse", "better"},
		},
		{
			Name:     "activity taken by/for the care recipient",
			Keywords: []string{"gave", "give", "took", "ate", "eat", "fed", "walked", "walk", "bathed", "showered", "changed", "administered", "medication", "dressed", "brushed", "drank", "therapy", "exercise", "exercised", "watched", "played", "visited", "read", "lunch", "breakfast", "dinner", "park", "appointment"},
		},
	}}
}

// LoadLabels reads a YAML label file of the form:
//
//	labels:
//	  - name: observation of patient sleep quality
//	    keywords: [slept, nap]
func LoadLabels(path string) (LabelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LabelSet{}, fmt.Errorf("read label file: %w", err)
	}
	var ls LabelSet
	if err := yaml.Unmarshal(data, &ls); err != nil {
		return LabelSet{}, fmt.Errorf("parse label file %s: %w", path, err)
	}
	if err := ls.Validate(); err != nil {
		return LabelSet{}, err
	}
	return ls, nil
}

// Validate checks that both groups have at least one label and names are unique.
func (ls LabelSet) Validate() error {
	seen := make(map[string]bool, len(ls.Labels))
	var obs, act int
	for _, l := range ls.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return fmt.Errorf("%w: empty label name", ErrInvalidLabels)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidLabels, name)
		}
		seen[name] = true
		switch groupOf(name) {
		case models.CategoryObservation:
			obs++
		case models.CategoryActivity:
			act++
		}
	}
	if obs == 0 || act == 0 {
		return fmt.Errorf("%w: need at least one %q and one %q label, got %d and %d",
			ErrInvalidLabels, prefixObservation, prefixActivity, obs, act)
	}
	return nil
}

// Names returns the label names in order.
func (ls LabelSet) Names() []string {
	names := make([]string, len(ls.Labels))
	for i, l := range ls.Labels {
		names[i] = l.Name
	}
	return names
}

// groupOf returns the category a label name contributes to, or "" for neither.
func groupOf(label string) models.Category {
	switch {
	case strings.HasPrefix(label, prefixObservation):
		return models.CategoryObservation
	case strings.HasPrefix(label, prefixActivity):
		return models.CategoryActivity
	default:
		return ""
	}
}
