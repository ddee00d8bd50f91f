/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Form naming. Every input is named BaseName[group][key]...
const (
	BaseName           = "ds_action_scheduler"
	DiscriminatorField = "timer_type"
	NonceName          = "ds_action_scheduler_form_builder_nonce"
	NonceAction        = "ds_action_scheduler_form_builder_update"
)

// ErrInvalidNonce is returned when a submission carries a missing or bad nonce.
var ErrInvalidNonce = errors.New("invalid form nonce")

// NonceIssuer creates and checks tokens bound to an action name.
type NonceIssuer interface {
	Issue(action string) (string, error)
	Verify(token, action string) error
}

// Form is the rendered timer builder for one group.
type Form struct {
	Group    string        `json:"group"`
	Now      string        `json:"now"`
	Nonce    FormInput     `json:"nonce"`
	Sections []FormSection `json:"sections"`
}

// FormSection holds the inputs of one variant, including its hidden
// discriminator input.
type FormSection struct {
	Variant Variant     `json:"variant"`
	Label   string      `json:"label"`
	Inputs  []FormInput `json:"inputs"`
}

// FormInput is one named input.
type FormInput struct {
	Name    string    `json:"name"`
	Label   string    `json:"label,omitempty"`
	Type    FieldType `json:"type"`
	Value   string    `json:"value,omitempty"`
	Choices []string  `json:"choices,omitempty"`
}

// FormBuilder renders timer forms and turns submissions into timers.
type FormBuilder struct {
	registry *Registry
	nonces   NonceIssuer
	now      func() time.Time
}

// NewFormBuilder creates a form builder over registry.
func NewFormBuilder(registry *Registry, nonces NonceIssuer) *FormBuilder {
	return &FormBuilder{registry: registry, nonces: nonces, now: time.Now}
}

// InputName returns the input name for a nested key path under group, or an
// empty string when no key is given.
func InputName(group string, keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	return fmt.Sprintf("%s[%s][%s]", BaseName, group, strings.Join(keys, "]["))
}

// Render builds the form of group with one section per registered variant.
// Sections are alternatives: inputs common to several variants share one name
// and every section carries the same discriminator input, so a client submits
// the inputs of the one section the user picked. When several sections are
// submitted together the last discriminator value wins.
func (b *FormBuilder) Render(group string) (Form, error) {
	form := Form{
		Group: group,
		Now:   b.now().UTC().Format("2006-01-02 15:04"),
	}

	if b.nonces != nil {
		token, err := b.nonces.Issue(NonceAction)
		if err != nil {
			return Form{}, fmt.Errorf("issue form nonce: %w", err)
		}
		form.Nonce = FormInput{Name: NonceName, Type: FieldHidden, Value: token}
	}

	for _, def := range b.registry.Definitions() {
		section := FormSection{Variant: def.Variant, Label: def.Label}
		for _, f := range def.Fields {
			section.Inputs = append(section.Inputs, FormInput{
				Name:    InputName(group, f.Key...),
				Label:   f.Label,
				Type:    f.Type,
				Value:   f.Default,
				Choices: f.Choices,
			})
		}
		section.Inputs = append(section.Inputs, FormInput{
			Name:  InputName(group, DiscriminatorField),
			Type:  FieldHidden,
			Value: string(def.Variant),
		})
		form.Sections = append(form.Sections, section)
	}
	return form, nil
}

// VerifyNonce checks the nonce field of a submission.
func (b *FormBuilder) VerifyNonce(values url.Values) error {
	if b.nonces == nil {
		return nil
	}
	token := values.Get(NonceName)
	if token == "" {
		return ErrInvalidNonce
	}
	if err := b.nonces.Verify(token, NonceAction); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
	return nil
}

// ParseSubmission groups the BaseName[...] inputs of values by group, turning
// bracketed names into nested options. Other inputs are ignored. Names are
// applied in sorted order, so a nested input such as [start][date] replaces a
// scalar [start] submitted alongside it.
func ParseSubmission(values url.Values) map[string]Options {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Options)
	for _, name := range names {
		vals := values[name]
		if len(vals) == 0 {
			continue
		}
		path, ok := splitInputName(name)
		if !ok || len(path) < 2 {
			continue
		}
		group := path[0]
		if out[group] == nil {
			out[group] = Options{}
		}
		setPath(out[group], path[1:], vals[len(vals)-1])
	}
	return out
}

// BuildFromSubmission creates a timer from the submitted form of group.
// It returns nil without error when the group carries no discriminator or
// names an unregistered variant. Submitted values override defaults, except
// that an empty start date keeps the date in defaults unless the submitted
// clock time differs from the stored one.
func (b *FormBuilder) BuildFromSubmission(group, id string, values url.Values, defaults Options) (Timer, error) {
	form, ok := ParseSubmission(values)[group]
	if !ok {
		return nil, nil
	}
	variant := Variant(form.String(DiscriminatorField))
	if variant == "" {
		return nil, nil
	}
	def, ok := b.registry.Lookup(variant)
	if !ok {
		return nil, nil
	}

	delete(form, DiscriminatorField)
	keepStoredDate(form, defaults)
	return def.New(id, MergeOptions(defaults, form), b.now())
}

// keepStoredDate drops an empty submitted start date when defaults carry a
// materialized one, so resubmitting the form does not re-anchor the timer.
func keepStoredDate(form, defaults Options) {
	stored := defaults.Sub(OptStart)
	if stored.String("date") == "" {
		return
	}
	submitted, ok := asOptions(form[OptStart])
	if !ok {
		return
	}
	if _, set := submitted["date"]; !set || submitted.String("date") != "" {
		return
	}
	if clock := submitted.String("time"); clock != "" && clock != stored.String("time") {
		// a new clock time re-anchors the timer
		return
	}
	delete(submitted, "date")
}

// splitInputName parses BaseName[a][b][c] into [a b c].
func splitInputName(name string) ([]string, bool) {
	rest, ok := strings.CutPrefix(name, BaseName)
	if !ok || !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return nil, false
	}
	parts := strings.Split(rest[1:len(rest)-1], "][")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "[]") {
			return nil, false
		}
	}
	return parts, true
}

func setPath(dst Options, path []string, value string) {
	for _, key := range path[:len(path)-1] {
		next, ok := asOptions(dst[key])
		if !ok {
			next = Options{}
			dst[key] = next
		}
		dst = next
	}
	dst[path[len(path)-1]] = value
}
