package model

// Job status
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// Panel status
type PanelStatus string

const (
	PanelStatusPending    PanelStatus = "pending"
	PanelStatusGenerating PanelStatus = "generating"
	PanelStatusReady      PanelStatus = "ready"
	PanelStatusDegraded   PanelStatus = "degraded"
)

// AssetSource records which step of a fallback chain produced an asset.
type AssetSource string

const (
	AssetSourcePrimary     AssetSource = "primary"
	AssetSourceSimplified  AssetSource = "simplified"
	AssetSourcePlaceholder AssetSource = "placeholder"
)

// Story request enums
type Mood string

const (
	MoodHappy      Mood = "happy"
	MoodStressed   Mood = "stressed"
	MoodNeutral    Mood = "neutral"
	MoodFrustrated Mood = "frustrated"
	MoodSad        Mood = "sad"
)

type Vibe string

const (
	VibeCalm         Vibe = "calm"
	VibeAdventure    Vibe = "adventure"
	VibeMusical      Vibe = "musical"
	VibeMotivational Vibe = "motivational"
)

type Archetype string

const (
	ArchetypeMentor    Archetype = "mentor"
	ArchetypeHero      Archetype = "hero"
	ArchetypeCompanion Archetype = "companion"
	ArchetypeComedian  Archetype = "comedian"
)

type Gender string

const (
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderNonBinary      Gender = "non-binary"
	GenderPreferNotToSay Gender = "prefer-not-to-say"
)
