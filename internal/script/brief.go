package script

import (
	"strconv"
	"strings"

	"github.com/makeasinger/panelcast/internal/model"
)

// Brief is the story context shared by every stage of one job.
type Brief struct {
	Title     string
	Nickname  string
	Age       int
	Gender    model.Gender
	Mood      model.Mood
	Vibe      model.Vibe
	Archetype model.Archetype
	Hobby     string
	Dream     string
	// Style is the resolved art direction.
	Style string
	// Seed keeps images of one story visually consistent.
	Seed int
}

// NewBrief derives a brief from a request.
func NewBrief(req model.StoryRequest, t *Templates, seed int) Brief {
	return Brief{
		Title:     req.MangaTitle,
		Nickname:  req.Nickname,
		Age:       req.Age,
		Gender:    req.Gender,
		Mood:      req.Mood,
		Vibe:      req.Vibe,
		Archetype: req.Archetype,
		Hobby:     req.Hobby,
		Dream:     req.Dream,
		Style:     t.Style(req.Mood, req.Vibe),
		Seed:      seed,
	}
}

func (b Brief) replacer() *strings.Replacer {
	name := b.Nickname
	if name == "" {
		name = "our hero"
	}
	dream := b.Dream
	if dream == "" {
		dream = "a brighter tomorrow"
	}
	hobby := b.Hobby
	if hobby == "" {
		hobby = "a favourite pastime"
	}
	return strings.NewReplacer(
		"{title}", b.Title,
		"{name}", name,
		"{age}", strconv.Itoa(b.Age),
		"{gender}", string(b.Gender),
		"{mood}", string(b.Mood),
		"{vibe}", string(b.Vibe),
		"{archetype}", string(b.Archetype),
		"{hobby}", hobby,
		"{dream}", dream,
		"{style}", b.Style,
	)
}
