/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package actions defines the closed set of broadcast actions a flow can
// contain and the duration-derivation rules used for timeline math.
package actions

import (
	"fmt"
	"time"
)

// Kind discriminates action variants on the wire and in storage.
type Kind string

const (
	KindPlayGenre                Kind = "play_genre"
	KindPlayContent              Kind = "play_content"
	KindPlayShow                 Kind = "play_show"
	KindPlayCommercials          Kind = "play_commercials"
	KindPlayScheduledCommercials Kind = "play_scheduled_commercials"
	KindPlayJingle               Kind = "play_jingle"
	KindWait                     Kind = "wait"
	KindSetVolume                Kind = "set_volume"
	KindFadeVolume               Kind = "fade_volume"
	KindAnnouncement             Kind = "announcement"
	KindTimeCheck                Kind = "time_check"
	KindGenerateJingle           Kind = "generate_jingle"
)

// Defaults holds the configured fallback estimates for actions that carry no
// explicit duration of their own.
type Defaults struct {
	SetVolume      time.Duration
	Announcement   time.Duration
	TimeCheck      time.Duration
	GenerateJingle time.Duration
	CommercialSpot time.Duration
	SongLength     time.Duration
}

// DefaultDurations returns the stock duration estimates.
func DefaultDurations() Defaults {
	return Defaults{
		SetVolume:      5 * time.Second,
		Announcement:   30 * time.Second,
		TimeCheck:      5 * time.Second,
		GenerateJingle: 20 * time.Second,
		CommercialSpot: 30 * time.Second,
		SongLength:     3*time.Minute + 30*time.Second,
	}
}

// Action is the closed interface all variants implement. Adding a variant
// means touching the codec switch, which is the compile-time exhaustiveness
// point for the whole package.
type Action interface {
	Kind() Kind

	// EstimatedDuration derives the action's contribution to the flow
	// timeline. Never negative; unresolved content references yield 0.
	EstimatedDuration(d Defaults) time.Duration

	// Validate checks the variant's own required fields.
	Validate() error
}

// PlayGenre plays tracks of a genre, bounded either by wall time or by a
// fixed number of songs.
type PlayGenre struct {
	Genre           string `json:"genre"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	SongCount       int    `json:"song_count,omitempty"`
}

func (PlayGenre) Kind() Kind { return KindPlayGenre }

func (a PlayGenre) EstimatedDuration(d Defaults) time.Duration {
	if a.DurationMinutes > 0 {
		return time.Duration(a.DurationMinutes) * time.Minute
	}
	if a.SongCount > 0 {
		return time.Duration(a.SongCount) * d.SongLength
	}
	return 0
}

func (a PlayGenre) Validate() error {
	if a.Genre == "" {
		return fmt.Errorf("play_genre: genre is required")
	}
	if a.DurationMinutes <= 0 && a.SongCount <= 0 {
		return fmt.Errorf("play_genre: duration_minutes or song_count must be positive")
	}
	if a.DurationMinutes < 0 || a.SongCount < 0 {
		return fmt.Errorf("play_genre: negative duration_minutes or song_count")
	}
	return nil
}

// PlayContent plays one stored content item. DurationSeconds is filled in by
// content enrichment; a zero value means the reference is unresolved and the
// segment is flagged invalid for execution.
type PlayContent struct {
	ContentID       string `json:"content_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (PlayContent) Kind() Kind { return KindPlayContent }

func (a PlayContent) EstimatedDuration(Defaults) time.Duration {
	if a.DurationSeconds > 0 {
		return time.Duration(a.DurationSeconds) * time.Second
	}
	return 0
}

func (a PlayContent) Validate() error {
	if a.ContentID == "" {
		return fmt.Errorf("play_content: content_id is required")
	}
	return nil
}

// PlayShow plays a full recorded show.
type PlayShow struct {
	ContentID       string `json:"content_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (PlayShow) Kind() Kind { return KindPlayShow }

func (a PlayShow) EstimatedDuration(Defaults) time.Duration {
	if a.DurationSeconds > 0 {
		return time.Duration(a.DurationSeconds) * time.Second
	}
	return 0
}

func (a PlayShow) Validate() error {
	if a.ContentID == "" {
		return fmt.Errorf("play_show: content_id is required")
	}
	return nil
}

// PlayCommercials plays a fixed number of spots, optionally from a named batch.
type PlayCommercials struct {
	Count int    `json:"count"`
	Batch string `json:"batch,omitempty"`
}

func (PlayCommercials) Kind() Kind { return KindPlayCommercials }

func (a PlayCommercials) EstimatedDuration(d Defaults) time.Duration {
	if a.Count <= 0 {
		return 0
	}
	return time.Duration(a.Count) * d.CommercialSpot
}

func (a PlayCommercials) Validate() error {
	if a.Count < 1 {
		return fmt.Errorf("play_commercials: count must be at least 1")
	}
	return nil
}

// PlayScheduledCommercials plays whatever spots are due, bounded by duration
// and/or count, with optional type filters.
type PlayScheduledCommercials struct {
	MaxDurationSeconds int      `json:"max_duration_s,omitempty"`
	MaxCount           int      `json:"max_count,omitempty"`
	IncludeTypes       []string `json:"include_types,omitempty"`
	ExcludeTypes       []string `json:"exclude_types,omitempty"`
}

func (PlayScheduledCommercials) Kind() Kind { return KindPlayScheduledCommercials }

func (a PlayScheduledCommercials) EstimatedDuration(d Defaults) time.Duration {
	byDuration := time.Duration(a.MaxDurationSeconds) * time.Second
	byCount := time.Duration(a.MaxCount) * d.CommercialSpot
	switch {
	case byDuration > 0 && byCount > 0:
		if byCount < byDuration {
			return byCount
		}
		return byDuration
	case byDuration > 0:
		return byDuration
	case byCount > 0:
		return byCount
	default:
		return d.CommercialSpot
	}
}

func (a PlayScheduledCommercials) Validate() error {
	if a.MaxDurationSeconds < 0 || a.MaxCount < 0 {
		return fmt.Errorf("play_scheduled_commercials: negative limit")
	}
	return nil
}

// PlayJingle plays one jingle.
type PlayJingle struct {
	JingleID        string `json:"jingle_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (PlayJingle) Kind() Kind { return KindPlayJingle }

func (a PlayJingle) EstimatedDuration(Defaults) time.Duration {
	if a.DurationSeconds > 0 {
		return time.Duration(a.DurationSeconds) * time.Second
	}
	return 0
}

func (a PlayJingle) Validate() error {
	if a.JingleID == "" {
		return fmt.Errorf("play_jingle: jingle_id is required")
	}
	return nil
}

// Wait holds silence (or the previous source) for a fixed span.
type Wait struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (Wait) Kind() Kind { return KindWait }

func (a Wait) EstimatedDuration(Defaults) time.Duration {
	if a.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Wait) Validate() error {
	if a.DurationMinutes < 1 {
		return fmt.Errorf("wait: duration_minutes must be at least 1")
	}
	return nil
}

// SetVolume jumps the output level.
type SetVolume struct {
	Level int `json:"level"`
}

func (SetVolume) Kind() Kind { return KindSetVolume }

func (a SetVolume) EstimatedDuration(d Defaults) time.Duration { return d.SetVolume }

func (a SetVolume) Validate() error {
	if a.Level < 0 || a.Level > 100 {
		return fmt.Errorf("set_volume: level must be within 0..100, got %d", a.Level)
	}
	return nil
}

// FadeVolume ramps the output level over a span.
type FadeVolume struct {
	Target          int `json:"target"`
	DurationSeconds int `json:"duration_s"`
}

func (FadeVolume) Kind() Kind { return KindFadeVolume }

func (a FadeVolume) EstimatedDuration(Defaults) time.Duration {
	if a.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(a.DurationSeconds) * time.Second
}

func (a FadeVolume) Validate() error {
	if a.Target < 0 || a.Target > 100 {
		return fmt.Errorf("fade_volume: target must be within 0..100, got %d", a.Target)
	}
	if a.DurationSeconds < 1 {
		return fmt.Errorf("fade_volume: duration_s must be at least 1")
	}
	return nil
}

// Announcement speaks a text, either from pre-rendered audio or synthesized
// at dispatch time.
type Announcement struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice,omitempty"`
	TTSLanguage  string  `json:"tts_language,omitempty"`
	Exaggeration float64 `json:"exaggeration,omitempty"`
	AudioSeconds int     `json:"audio_seconds,omitempty"`
}

func (Announcement) Kind() Kind { return KindAnnouncement }

func (a Announcement) EstimatedDuration(d Defaults) time.Duration {
	if a.AudioSeconds > 0 {
		return time.Duration(a.AudioSeconds) * time.Second
	}
	return d.Announcement
}

func (a Announcement) Validate() error {
	if a.Text == "" {
		return fmt.Errorf("announcement: text is required")
	}
	if a.Exaggeration < 0 {
		return fmt.Errorf("announcement: exaggeration must not be negative")
	}
	return nil
}

// TimeCheck announces the current time.
type TimeCheck struct {
	Format   string `json:"format"`
	Language string `json:"language"`
}

func (TimeCheck) Kind() Kind { return KindTimeCheck }

func (a TimeCheck) EstimatedDuration(d Defaults) time.Duration { return d.TimeCheck }

func (a TimeCheck) Validate() error {
	if a.Format == "" {
		return fmt.Errorf("time_check: format is required")
	}
	return nil
}

// GenerateJingle synthesizes and plays a one-off jingle.
type GenerateJingle struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

func (GenerateJingle) Kind() Kind { return KindGenerateJingle }

func (a GenerateJingle) EstimatedDuration(d Defaults) time.Duration { return d.GenerateJingle }

func (a GenerateJingle) Validate() error {
	if a.Text == "" {
		return fmt.Errorf("generate_jingle: text is required")
	}
	return nil
}

// NeedsContentResolution reports whether the action references stored content
// whose duration must be looked up before the timeline is trustworthy.
func NeedsContentResolution(a Action) bool {
	switch a.Kind() {
	case KindPlayContent, KindPlayShow, KindPlayJingle:
		return a.EstimatedDuration(Defaults{}) == 0
	default:
		return false
	}
}
