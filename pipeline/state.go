package pipeline

import (
	"fmt"
	"time"

	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/publisher"
	"auto_xhs_publisher/store"
)

// State is a stage of one content session.
type State int

const (
	StateStart State = iota
	StateCategoryResolved
	StateTitlesOffered
	StateTitleChosen
	StateBodyDrafted
	StateBodyApproved
	StateImageDrafted
	StateImageApproved
	StateAuthenticated
	StateVisibilitySet
	StatePublished
	StateAborted
)

var stateNames = map[State]string{
	StateStart:            "Start",
	StateCategoryResolved: "CategoryResolved",
	StateTitlesOffered:    "TitlesOffered",
	StateTitleChosen:      "TitleChosen",
	StateBodyDrafted:      "BodyDrafted",
	StateBodyApproved:     "BodyApproved",
	StateImageDrafted:     "ImageDrafted",
	StateImageApproved:    "ImageApproved",
	StateAuthenticated:    "Authenticated",
	StateVisibilitySet:    "VisibilitySet",
	StatePublished:        "Published",
	StateAborted:          "Aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateAborted
}

// transitions lists every allowed edge besides "any non-terminal -> Aborted".
// Self-edges are regeneration loops.
var transitions = map[State][]State{
	StateStart:            {StateCategoryResolved},
	StateCategoryResolved: {StateTitlesOffered},
	StateTitlesOffered:    {StateTitlesOffered, StateTitleChosen},
	StateTitleChosen:      {StateBodyDrafted},
	StateBodyDrafted:      {StateBodyDrafted, StateBodyApproved},
	StateBodyApproved:     {StateImageDrafted, StateImageApproved}, // image skipped
	StateImageDrafted:     {StateImageDrafted, StateImageApproved},
	StateImageApproved:    {StateAuthenticated}, // login skipped when a credential exists
	StateAuthenticated:    {StateVisibilitySet},
	StateVisibilitySet:    {StatePublished, StateAuthenticated}, // re-login after publish auth failure
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Session is owned by the orchestrator for the lifetime of one run.
type Session struct {
	Theme      string
	Category   generator.Category
	Key        string
	CreatedAt  time.Time
	Visibility publisher.Visibility
	State      State

	Titles []string
	Draft  generator.Draft
	Image  *generator.ImageAsset
	Record *store.Record
	Trail  []Transition

	dir        *store.SessionDir
	credential publisher.Credential
	now        func() time.Time
}

func (s *Session) advance(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", s.State, to)
	}
	s.Trail = append(s.Trail, Transition{From: s.State, To: to, At: s.now()})
	s.State = to
	return nil
}

// Visited reports whether the session ever entered state.
func (s *Session) Visited(state State) bool {
	if s.State == state {
		return true
	}
	for _, t := range s.Trail {
		if t.To == state {
			return true
		}
	}
	return false
}

func (s *Session) snapshot() store.Snapshot {
	var image *generator.ImageAsset
	if s.Image != nil {
		img := *s.Image
		image = &img
	}
	return store.Snapshot{
		Theme:    s.Theme,
		Category: string(s.Category),
		State:    s.State.String(),
		Titles:   append([]string(nil), s.Titles...),
		Draft:    s.Draft,
		Image:    image,
	}
}
