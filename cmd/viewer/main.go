package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/makeasinger/panelcast/internal/auth"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/viewer"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "panelcast server base URL")
	jobID := flag.String("job", "", "join an existing job instead of submitting a new one")
	token := flag.String("token", os.Getenv("PANELCAST_TOKEN"), "bearer token")
	secret := flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "mint a local token with this HMAC secret when -token is empty")
	speed := flag.Float64("speed", 1, "narration speed multiplier")
	nickname := flag.String("nickname", "Kai", "hero nickname for a new story")
	title := flag.String("title", "The Last Kickflip", "manga title for a new story")
	flag.Parse()

	if *token == "" && *secret != "" {
		t, err := auth.IssueLegacyToken(*secret, "viewer", "viewer@localhost", time.Hour)
		if err != nil {
			fail("mint token: %v", err)
		}
		*token = t
	}

	heading := ""
	if *jobID == "" {
		heading = *title
		accepted, err := viewer.Submit(*server, *token, model.StoryRequest{
			Mood:       model.MoodStressed,
			Vibe:       model.VibeMotivational,
			Archetype:  model.ArchetypeHero,
			Dream:      "to land a trick in front of the whole city",
			MangaTitle: *title,
			Nickname:   *nickname,
			Hobby:      "skateboarding",
			Age:        16,
			Gender:     model.GenderPreferNotToSay,
		})
		if err != nil {
			fail("%v", err)
		}
		*jobID = accepted.JobID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	stream, err := viewer.Dial(ctx, *server, *jobID, *token)
	cancel()
	if err != nil {
		fail("%v", err)
	}
	defer stream.Close()

	p := tea.NewProgram(viewer.NewModel(*jobID, heading, stream.Next, *speed), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fail("run viewer: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
