/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package actions

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionList is an ordered action sequence. It marshals as a JSON array of
// tagged envelopes ({"type": ..., ...payload}) so it can live in a jsonb
// column through the gorm JSON serializer.
type ActionList []Action

// envelope carries the discriminator during decoding.
type envelope struct {
	Type Kind `json:"type"`
}

// MarshalJSON flattens each action into its payload object plus a type tag.
func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]map[string]any, 0, len(l))
	for _, a := range l {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		m := map[string]any{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		m["type"] = string(a.Kind())
		out = append(out, m)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tagged envelope array back into concrete variants.
func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	list := make(ActionList, 0, len(raws))
	for i, raw := range raws {
		a, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		list = append(list, a)
	}
	*l = list
	return nil
}

// Decode turns one tagged envelope into its concrete variant. This switch is
// the single place a new action kind must be registered.
func Decode(raw json.RawMessage) (Action, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var (
		a   Action
		err error
	)
	switch env.Type {
	case KindPlayGenre:
		var v PlayGenre
		err = json.Unmarshal(raw, &v)
		a = v
	case KindPlayContent:
		var v PlayContent
		err = json.Unmarshal(raw, &v)
		a = v
	case KindPlayShow:
		var v PlayShow
		err = json.Unmarshal(raw, &v)
		a = v
	case KindPlayCommercials:
		var v PlayCommercials
		err = json.Unmarshal(raw, &v)
		a = v
	case KindPlayScheduledCommercials:
		var v PlayScheduledCommercials
		err = json.Unmarshal(raw, &v)
		a = v
	case KindPlayJingle:
		var v PlayJingle
		err = json.Unmarshal(raw, &v)
		a = v
	case KindWait:
		var v Wait
		err = json.Unmarshal(raw, &v)
		a = v
	case KindSetVolume:
		var v SetVolume
		err = json.Unmarshal(raw, &v)
		a = v
	case KindFadeVolume:
		var v FadeVolume
		err = json.Unmarshal(raw, &v)
		a = v
	case KindAnnouncement:
		var v Announcement
		err = json.Unmarshal(raw, &v)
		a = v
	case KindTimeCheck:
		var v TimeCheck
		err = json.Unmarshal(raw, &v)
		a = v
	case KindGenerateJingle:
		var v GenerateJingle
		err = json.Unmarshal(raw, &v)
		a = v
	default:
		return nil, fmt.Errorf("unknown action type %q", env.Type)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks every action in the list and requires at least one entry.
func (l ActionList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("action list must contain at least one action")
	}
	for i, a := range l {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// TotalDuration sums the derived durations of every action.
func (l ActionList) TotalDuration(d Defaults) time.Duration {
	var sum time.Duration
	for _, a := range l {
		if dur := a.EstimatedDuration(d); dur > 0 {
			sum += dur
		}
	}
	return sum
}
